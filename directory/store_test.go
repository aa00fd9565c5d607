package directory_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"netpong/directory"
	"netpong/frame"
)

func testStore(t *testing.T, s directory.Store) {
	t.Helper()
	ctx := context.Background()

	if _, found, err := s.Load(ctx); err != nil || found {
		t.Fatalf("empty Load = found %v, err %v", found, err)
	}
	want := frame.DefaultHighscores()
	want.Insert("Zed", 4)
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, found, err := s.Load(ctx)
	if err != nil || !found {
		t.Fatalf("Load = found %v, err %v", found, err)
	}
	if got != want {
		t.Errorf("Load = %v, want %v", got, want)
	}
}

func TestMemoryStore(t *testing.T) {
	testStore(t, directory.NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "highscores.json")
	testStore(t, directory.NewFileStore(path))

	// A second store on the same file sees the saved table.
	if _, found, _ := directory.NewFileStore(path).Load(context.Background()); !found {
		t.Error("table not persisted")
	}
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "highscores.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := directory.NewFileStore(path).Load(context.Background()); err == nil {
		t.Error("corrupt file should fail to load")
	}
}

// fakeS3 keeps objects in memory.
type fakeS3 struct {
	objects map[string][]byte
	putErr  error
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Bucket+"/"+*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func TestS3Store(t *testing.T) {
	testStore(t, directory.NewS3Store(&fakeS3{objects: map[string][]byte{}}, "bucket", "netpong/highscores.json"))
}

func TestS3StorePutError(t *testing.T) {
	boom := errors.New("access denied")
	s := directory.NewS3Store(&fakeS3{objects: map[string][]byte{}, putErr: boom}, "bucket", "key")
	if err := s.Save(context.Background(), frame.DefaultHighscores()); !errors.Is(err, boom) {
		t.Errorf("Save = %v, want wrapped %v", err, boom)
	}
}
