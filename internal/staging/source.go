// Package staging reads raw event logs and song metadata from a local
// directory or S3 and writes them into the staging tables, for warehouses
// that cannot bulk load from object storage themselves.
package staging

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sparkify/pkg/errors"
)

// Object is one source file
type Object struct {
	Key  string
	Size int64
}

// Source lists and opens the JSON files under one location
type Source interface {
	// List returns the .json objects under the location, sorted by key
	List(ctx context.Context) ([]Object, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Location() string
}

// OpenSource returns the Source for location. s3://bucket/prefix is read
// through the S3 API; file:// URLs and bare paths from the local disk.
func OpenSource(ctx context.Context, location string, opts S3Options) (Source, error) {
	if strings.HasPrefix(location, "s3://") {
		return NewS3Source(ctx, location, opts)
	}
	return NewFileSource(location)
}

// Fetch reads the single object at location
func Fetch(ctx context.Context, location string, opts S3Options) ([]byte, error) {
	if strings.HasPrefix(location, "s3://") {
		src, err := NewS3Source(ctx, location, opts)
		if err != nil {
			return nil, err
		}
		rc, err := src.Open(ctx, src.prefix)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeSourceNotFound, "Failed to read object").
				WithContext("location", location)
		}
		return data, nil
	}

	data, err := os.ReadFile(localPath(location))
	if err != nil {
		return nil, sourceError(err, location)
	}
	return data, nil
}

// FileSource reads from the local filesystem
type FileSource struct {
	root string
}

// NewFileSource creates a source over a directory tree or a single file
func NewFileSource(location string) (*FileSource, error) {
	root := localPath(location)
	if _, err := os.Stat(root); err != nil {
		return nil, sourceError(err, location)
	}
	return &FileSource{root: root}, nil
}

func (s *FileSource) Location() string { return s.root }

func (s *FileSource) List(ctx context.Context) ([]Object, error) {
	var objects []Object
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !isJSON(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, Object{Key: path, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, sourceError(err, s.root)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func (s *FileSource) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(key)
	if err != nil {
		return nil, sourceError(err, key)
	}
	return f, nil
}

func localPath(location string) string {
	return strings.TrimPrefix(location, "file://")
}

func isJSON(key string) bool {
	return strings.EqualFold(filepath.Ext(key), ".json")
}

func sourceError(err error, location string) error {
	code := errors.ErrCodeSourceNotFound
	if os.IsPermission(err) {
		code = errors.ErrCodeSourceAccessDenied
	}
	return errors.Wrap(err, code, "Source location is not readable").
		WithContext("location", location)
}
