package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syncgate/internal/errs"
	"syncgate/internal/model"
	"syncgate/internal/store"
)

func TestWriteCSVColumns(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	recs := []model.CatalogRecord{
		{Key: "O1", UpdatedAt: at, Data: map[string]any{"externalId": "O1", "status": "paid", "total": "5", "zeta": true,
			"lines": []any{map[string]any{"sku": "A", "quantity": 2.0}}}},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, model.KindOrder, recs))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"key", "updatedAt", "externalId", "status", "total", "currency", "customerEmail", "placedAt", "lines", "zeta"}, rows[0])
	assert.Equal(t, "2026-01-02T03:04:05Z", rows[1][1])
	assert.Equal(t, "", rows[1][5])
	assert.JSONEq(t, `[{"sku":"A","quantity":2}]`, rows[1][8])
	assert.Equal(t, "true", rows[1][9])
}

func TestExportToFileSink(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	_, err := mem.UpsertRecord(ctx, model.CatalogRecord{Kind: model.KindPrice, MerchantID: "m-1", Key: "A", Data: map[string]any{"sku": "A", "price": "1.5", "currency": "USD"}})
	require.NoError(t, err)
	_, err = mem.UpsertRecord(ctx, model.CatalogRecord{Kind: model.KindPrice, MerchantID: "m-2", Key: "B", Data: map[string]any{"sku": "B"}})
	require.NoError(t, err)

	dir := t.TempDir()
	e := NewExporter(mem, FileSink{Dir: dir}, nil)
	e.now = func() time.Time { return time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC) }
	res, err := e.Export(ctx, "m-1", "int-1", model.KindPrice, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Records)
	assert.Equal(t, filepath.Join(dir, "m-1", "price-int-1-20260203T040506Z.csv"), res.Location)

	body, err := os.ReadFile(res.Location)
	require.NoError(t, err)
	assert.Contains(t, string(body), "A,")
	assert.NotContains(t, string(body), "B,")

	_, err = e.Export(ctx, "m-1", "int-1", "widgets", time.Time{})
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

type fakeS3 struct {
	in  *s3.PutObjectInput
	err error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	return &s3.PutObjectOutput{}, f.err
}

func TestS3SinkPut(t *testing.T) {
	fake := &fakeS3{}
	sink := &S3Sink{client: fake, bucket: "exports", prefix: "syncgate"}
	loc, err := sink.Put(context.Background(), "m-1/order.csv", "text/csv", []byte("a,b\n"))
	require.NoError(t, err)
	assert.Equal(t, "s3://exports/syncgate/m-1/order.csv", loc)
	assert.Equal(t, "syncgate/m-1/order.csv", aws.ToString(fake.in.Key))
	body, _ := io.ReadAll(fake.in.Body)
	assert.Equal(t, "a,b\n", string(body))

	fake.err = errors.New("slow down")
	_, err = sink.Put(context.Background(), "x.csv", "text/csv", nil)
	assert.True(t, errs.IsRetryable(err))
}

func TestNewS3SinkRequiresBucket(t *testing.T) {
	_, err := NewS3Sink(context.Background(), S3Config{})
	assert.True(t, errs.IsKind(err, errs.KindConfiguration))
}
