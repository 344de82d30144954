package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAlign_SnapsToBucketBoundary(t *testing.T) {
	bucketMS := int64(180_000)
	now := time.UnixMilli(1_700_000_030_000).UTC()
	assert.Equal(t, int64(1_699_999_920_000), align(now, bucketMS))
}

func TestAlign_ExactBoundaryIsUnchanged(t *testing.T) {
	bucketMS := int64(180_000)
	now := time.UnixMilli(1_699_999_920_000).UTC()
	assert.Equal(t, int64(1_699_999_920_000), align(now, bucketMS))
}
