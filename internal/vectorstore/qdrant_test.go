package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "not found code", err: status.Error(codes.NotFound, "Collection `docs` doesn't exist!"), want: ErrCollectionNotFound},
		{name: "not found message", err: status.Error(codes.Internal, "Not found: Collection `docs` doesn't exist!"), want: ErrCollectionNotFound},
		{name: "unavailable", err: status.Error(codes.Unavailable, "connection refused"), want: ErrUnavailable},
		{name: "deadline code", err: status.Error(codes.DeadlineExceeded, "deadline"), want: ErrUnavailable},
		{name: "context deadline", err: fmt.Errorf("query: %w", context.DeadlineExceeded), want: ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyError(tt.err)
			assert.True(t, errors.Is(got, tt.want), "got %v", got)
			assert.True(t, errors.Is(got, tt.err) || errors.Is(got, context.DeadlineExceeded))
		})
	}
}

func TestClassifyError_PassThrough(t *testing.T) {
	err := status.Error(codes.InvalidArgument, "bad vector size")
	got := classifyError(err)

	assert.Equal(t, err, got)
	assert.False(t, errors.Is(got, ErrCollectionNotFound))
	assert.False(t, errors.Is(got, ErrUnavailable))
	assert.Nil(t, classifyError(nil))
}

func TestDecodeValue(t *testing.T) {
	assert.Equal(t, "report.pdf", decodeValue(qdrant.NewValueString("report.pdf")))
	assert.Equal(t, int64(3), decodeValue(qdrant.NewValueInt(3)))
	assert.Equal(t, 0.5, decodeValue(qdrant.NewValueDouble(0.5)))
	assert.Equal(t, true, decodeValue(qdrant.NewValueBool(true)))
	assert.Nil(t, decodeValue(qdrant.NewValueNull()))
	assert.Nil(t, decodeValue(nil))
}

func TestEncodeValue_RoundTripsScalars(t *testing.T) {
	for _, v := range []any{"a", true, int64(7), 1.25, nil} {
		assert.Equal(t, v, decodeValue(encodeValue(v)))
	}

	assert.Equal(t, int64(7), decodeValue(encodeValue(7)))
	assert.Equal(t, "[1 2]", decodeValue(encodeValue([]int{1, 2})))
}

func TestPointID(t *testing.T) {
	assert.Equal(t, "0f8fad5b-d9cb-469f-a165-70867728950e", pointID(qdrant.NewIDUUID("0f8fad5b-d9cb-469f-a165-70867728950e")))
	assert.Equal(t, "42", pointID(qdrant.NewIDNum(42)))
	assert.Equal(t, "", pointID(nil))
}
