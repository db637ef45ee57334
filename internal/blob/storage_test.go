package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStorage runs the behaviour every backend must share.
func exerciseStorage(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()

	t.Run("upload then open", func(t *testing.T) {
		require.NoError(t, s.Upload(ctx, strings.NewReader("hello"), "a/b.txt", nil))

		ok, err := s.Exists(ctx, "a/b.txt")
		require.NoError(t, err)
		assert.True(t, ok)

		r, err := s.Open(ctx, "a/b.txt")
		require.NoError(t, err)
		defer r.Close()
		data, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(data))
	})

	t.Run("missing id", func(t *testing.T) {
		ok, err := s.Exists(ctx, "missing.txt")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = s.Open(ctx, "missing.txt")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		require.NoError(t, s.Upload(ctx, strings.NewReader("x"), "gone.txt", nil))
		require.NoError(t, s.Delete(ctx, "gone.txt"))
		require.NoError(t, s.Delete(ctx, "gone.txt"))

		ok, err := s.Exists(ctx, "gone.txt")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestFileSystem_Memory(t *testing.T) {
	exerciseStorage(t, NewMemory())
}

func TestFileSystem_Disk(t *testing.T) {
	dir := t.TempDir()
	s := NewDisk(dir)
	exerciseStorage(t, s)

	url, err := s.URL(context.Background(), "a/b.txt", URLOptions{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, dir))
}

func TestFileSystem_URLPrefix(t *testing.T) {
	s := NewMemory(WithURLPrefix("https://cdn.example.com/uploads/"))
	url, err := s.URL(context.Background(), "x/y.png", URLOptions{})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/uploads/x/y.png", url)
}

func TestFileSystem_RejectsEscapingIDs(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	for _, id := range []string{"", "../etc/passwd", "a/../../b", "/"} {
		assert.Error(t, s.Upload(ctx, strings.NewReader("x"), id, nil), id)
	}
}

func TestFileSystem_UploadHonoursCancellation(t *testing.T) {
	s := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Upload(ctx, strings.NewReader("x"), "c.txt", nil)
	assert.ErrorIs(t, err, context.Canceled)

	ok, _ := s.Exists(context.Background(), "c.txt")
	assert.False(t, ok)
}

func TestBadger(t *testing.T) {
	s, err := OpenBadger("")
	require.NoError(t, err)
	defer s.Close()

	exerciseStorage(t, s)

	url, err := s.URL(context.Background(), "a/b.txt", URLOptions{})
	require.NoError(t, err)
	assert.Empty(t, url)
}

func TestCopy(t *testing.T) {
	ctx := context.Background()
	src, dst := NewMemory(), NewMemory()
	require.NoError(t, src.Upload(ctx, strings.NewReader("payload"), "one", nil))

	require.NoError(t, Copy(ctx, src, "one", dst, "two", nil))

	r, err := dst.Open(ctx, "two")
	require.NoError(t, err)
	data, _ := io.ReadAll(r)
	r.Close()
	assert.Equal(t, "payload", string(data))

	assert.ErrorIs(t, Copy(ctx, src, "absent", dst, "three", nil), ErrNotFound)
}

func TestStorageError(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap("upload", "cache", "a.txt", cause)

	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "upload", se.Op)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "upload cache:a.txt: disk full", err.Error())

	assert.Same(t, err, Wrap("open", "store", "b", err), "already wrapped errors pass through")
	assert.NoError(t, Wrap("upload", "cache", "a", nil))
}

// fakeS3 is an in-memory S3Client.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    []*s3.PutObjectInput
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Bucket+"/"+*in.Key] = data
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[*in.Bucket+"/"+*in.Key]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, *in.Bucket+"/"+*in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

type fakePresigner struct {
	lastInput *s3.GetObjectInput
}

func (p *fakePresigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	p.lastInput = in
	return &v4.PresignedHTTPRequest{URL: "https://bucket.example/" + *in.Key + "?sig=1"}, nil
}

func TestS3(t *testing.T) {
	client := newFakeS3()
	presigner := &fakePresigner{}
	s := NewS3WithClient(client, presigner, "bucket", "/uploads/")

	exerciseStorage(t, s)

	t.Run("keys carry the prefix", func(t *testing.T) {
		assert.Equal(t, "uploads/a/b.txt", s.Key("a/b.txt"))
		_, ok := client.objects["bucket/uploads/a/b.txt"]
		assert.True(t, ok)
	})

	t.Run("upload sets content headers from metadata", func(t *testing.T) {
		require.NoError(t, s.Upload(context.Background(), strings.NewReader("img"), "p.png", map[string]interface{}{
			"mime_type": "image/png",
			"filename":  "photo.png",
		}))
		last := client.puts[len(client.puts)-1]
		assert.Equal(t, "image/png", *last.ContentType)
		assert.Equal(t, `inline; filename=photo.png`, *last.ContentDisposition)
	})

	t.Run("url is presigned", func(t *testing.T) {
		url, err := s.URL(context.Background(), "p.png", URLOptions{Download: true})
		require.NoError(t, err)
		assert.Equal(t, "https://bucket.example/uploads/p.png?sig=1", url)
		assert.Equal(t, "attachment", *presigner.lastInput.ResponseContentDisposition)
	})

	t.Run("no presigner means no url", func(t *testing.T) {
		plain := NewS3WithClient(client, nil, "bucket", "")
		url, err := plain.URL(context.Background(), "p.png", URLOptions{})
		require.NoError(t, err)
		assert.Empty(t, url)
	})
}
