package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/minio/minio-go/v7"

	"github.com/datatalk/datatalk/internal/storage"
)

func TestPutUsesPrefixAndMetadata(t *testing.T) {
	fake := newFakeClient()
	store, err := newStore("bucket-a", "/datatalk/prod/", fake)
	if err != nil {
		t.Fatalf("newStore() error = %v", err)
	}

	info, err := store.Put(context.Background(), "/sessions/date=2026-02-19/abc/data.parquet", bytes.NewBufferString("abc"), 3, storage.PutOptions{
		ContentType: storage.ContentTypeParquet,
		Metadata:    map[string]string{"session-id": "abc"},
	})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	wantKey := "datatalk/prod/sessions/date=2026-02-19/abc/data.parquet"
	if info.Key != wantKey || info.Size != 3 {
		t.Fatalf("Put() info = %+v", info)
	}
	if fake.lastPut.ContentType != storage.ContentTypeParquet || fake.lastPut.UserMetadata["session-id"] != "abc" {
		t.Fatalf("put options = %+v", fake.lastPut)
	}
	if string(fake.objects["bucket-a/"+wantKey]) != "abc" {
		t.Fatalf("objects = %v", fake.objects)
	}
}

func TestPutRejectsPathTraversal(t *testing.T) {
	store, err := newStore("bucket-a", "", newFakeClient())
	if err != nil {
		t.Fatalf("newStore() error = %v", err)
	}
	if _, err := store.Put(context.Background(), "../secrets.txt", bytes.NewBufferString("x"), 1, storage.PutOptions{}); err == nil {
		t.Fatal("expected path traversal validation error")
	}
}

func TestGetMapsMissingObject(t *testing.T) {
	store, err := newStore("bucket-a", "", newFakeClient())
	if err != nil {
		t.Fatalf("newStore() error = %v", err)
	}
	if _, err := store.Get(context.Background(), "sessions/missing/data.parquet"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Get() error = %v, want ErrObjectNotFound", err)
	}
}

func TestEnsureBucketCreatesWhenMissing(t *testing.T) {
	fake := newFakeClient()
	store, err := newStore("bucket-a", "", fake)
	if err != nil {
		t.Fatalf("newStore() error = %v", err)
	}

	if err := store.ensureBucket(context.Background(), "us-east-1"); err != nil {
		t.Fatalf("ensureBucket() error = %v", err)
	}
	if fake.madeBucketRegion != "us-east-1" {
		t.Fatalf("MakeBucket region = %q", fake.madeBucketRegion)
	}
}

func TestDeleteIgnoresMissingObject(t *testing.T) {
	fake := newFakeClient()
	fake.removeErr = minio.ErrorResponse{Code: "NoSuchKey"}
	store, err := newStore("bucket-a", "", fake)
	if err != nil {
		t.Fatalf("newStore() error = %v", err)
	}
	if err := store.Delete(context.Background(), "sessions/missing/data.parquet"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	fake.removeErr = errors.New("access denied")
	if err := store.Delete(context.Background(), "sessions/other/data.parquet"); err == nil {
		t.Fatal("expected delete error")
	}
}

func TestHealthCheckRequiresBucket(t *testing.T) {
	fake := newFakeClient()
	store, err := newStore("bucket-a", "", fake)
	if err != nil {
		t.Fatalf("newStore() error = %v", err)
	}
	if err := store.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected missing bucket error")
	}
	fake.bucketExists = true
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
}

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		raw      string
		useSSL   bool
		endpoint string
		secure   bool
		wantErr  bool
	}{
		{raw: "https://minio.example.com", endpoint: "minio.example.com", secure: true},
		{raw: "http://localhost:9000", useSSL: false, endpoint: "localhost:9000"},
		{raw: "localhost:9000", useSSL: true, endpoint: "localhost:9000", secure: true},
		{raw: "ftp://minio.example.com", wantErr: true},
		{raw: "  ", wantErr: true},
	}
	for _, tc := range cases {
		endpoint, secure, err := parseEndpoint(tc.raw, tc.useSSL)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseEndpoint(%q) expected error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseEndpoint(%q) error = %v", tc.raw, err)
		}
		if endpoint != tc.endpoint || secure != tc.secure {
			t.Fatalf("parseEndpoint(%q) = %q/%v", tc.raw, endpoint, secure)
		}
	}
}

type fakeClient struct {
	objects          map[string][]byte
	lastPut          minio.PutObjectOptions
	bucketExists     bool
	madeBucketRegion string
	removeErr        error
}

func newFakeClient() *fakeClient {
	return &fakeClient{objects: map[string][]byte{}}
}

func (f *fakeClient) PutObject(_ context.Context, bucket, key string, reader io.Reader, _ int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.objects[bucket+"/"+key] = data
	f.lastPut = opts
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: int64(len(data)), ETag: "etag-1"}, nil
}

func (f *fakeClient) GetObject(_ context.Context, bucket, key string, _ minio.GetObjectOptions) (io.ReadCloser, error) {
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, minio.ErrorResponse{Code: "NoSuchKey"}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeClient) RemoveObject(_ context.Context, bucket, key string, _ minio.RemoveObjectOptions) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	delete(f.objects, bucket+"/"+key)
	return nil
}

func (f *fakeClient) BucketExists(_ context.Context, _ string) (bool, error) {
	return f.bucketExists, nil
}

func (f *fakeClient) MakeBucket(_ context.Context, _ string, opts minio.MakeBucketOptions) error {
	f.madeBucketRegion = opts.Region
	f.bucketExists = true
	return nil
}
