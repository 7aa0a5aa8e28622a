package stowdrive

import (
	"context"
	"errors"
	"fmt"
	"iter"
)

const defaultPageSize = 1000

// PathModel layers directory semantics over a flat ObjectStore.
type PathModel struct {
	store    ObjectStore
	pageSize int
}

func NewPathModel(store ObjectStore, pageSize int) *PathModel {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &PathModel{store: store, pageSize: pageSize}
}

// ChildPage is one page of directory children. An empty Cursor means the
// listing is complete.
type ChildPage struct {
	Objects []StoredObject
	Cursor  string
}

// Stat returns the object at key. The root always exists.
func (p *PathModel) Stat(ctx context.Context, key string) (StoredObject, error) {
	if key == "" {
		return RootObject(), nil
	}

	obj, err := p.store.Head(ctx, key)
	if err != nil {
		return StoredObject{}, fmt.Errorf("stat %s: %w", key, err)
	}

	return obj, nil
}

// Exists reports whether key names an object or the root.
func (p *PathModel) Exists(ctx context.Context, key string) (bool, error) {
	_, err := p.Stat(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ParentExists reports whether the parent directory of key exists. The parent
// must be the root or a directory marker.
func (p *PathModel) ParentExists(ctx context.Context, key string) (bool, error) {
	parent := ParentKey(key)
	if parent == "" {
		return true, nil
	}

	obj, err := p.store.Head(ctx, parent)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("parent exists %s: %w", key, err)
	}

	return obj.IsDir(), nil
}

// Page lists one page of children of dir. DepthOne returns direct children,
// DepthInfinity every descendant and DepthZero nothing. Private keys are
// never returned. A directory is listed only through its marker object;
// delimited prefixes on their own are not children.
func (p *PathModel) Page(ctx context.Context, dir string, depth Depth, cursor string) (ChildPage, error) {
	opts := ListOptions{
		Prefix: ChildPrefix(dir),
		Cursor: cursor,
		Limit:  p.pageSize,
	}

	switch depth {
	case DepthZero:
		return ChildPage{}, nil
	case DepthOne:
		opts.Delimiter = "/"
	case DepthInfinity:
	default:
		return ChildPage{}, fmt.Errorf("page %s: depth %s: %w", dir, depth, ErrInvalidInput)
	}

	page, err := p.store.List(ctx, opts)
	if err != nil {
		return ChildPage{}, fmt.Errorf("page %s: %w", dir, err)
	}

	out := ChildPage{Objects: make([]StoredObject, 0, len(page.Objects))}
	for _, obj := range page.Objects {
		if IsPrivateKey(obj.Key) || obj.Key == dir {
			continue
		}
		out.Objects = append(out.Objects, obj)
	}

	if page.Truncated {
		out.Cursor = page.Cursor
	}

	return out, nil
}

// Children walks every page of dir's children. Iteration stops at the first
// error, which is yielded with a zero object.
func (p *PathModel) Children(ctx context.Context, dir string, depth Depth) iter.Seq2[StoredObject, error] {
	return func(yield func(StoredObject, error) bool) {
		cursor := ""
		for {
			page, err := p.Page(ctx, dir, depth, cursor)
			if err != nil {
				yield(StoredObject{}, err)
				return
			}

			for _, obj := range page.Objects {
				if !yield(obj, nil) {
					return
				}
			}

			if page.Cursor == "" {
				return
			}
			cursor = page.Cursor
		}
	}
}
