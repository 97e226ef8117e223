// Package treetest provides an in-memory tree.Provider with failure
// injection for exercising the engine and job controller in tests.
package treetest

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/bamsammich/shuttle/internal/tree"
)

// Compile-time interface checks.
var (
	_ tree.Provider = (*Memory)(nil)
	_ tree.Folder   = (*memFolder)(nil)
	_ tree.File     = (*memFile)(nil)
)

// Memory is an in-process tree.Provider. Like cloud drives, it allows several
// siblings with the same name. It is safe for concurrent use and supports
// failure injection for tests.
type Memory struct {
	mu         sync.Mutex
	seq        int
	nodes      map[string]*memNode
	failCopy   map[string]error
	failCreate map[string]error
	copyHook   func(name string)
	copies     int
}

type memNode struct {
	id       string
	name     string
	parent   string
	isDir    bool
	data     []byte
	children []string
}

// NewMemory creates an empty in-memory provider.
func NewMemory() *Memory {
	return &Memory{
		nodes:      make(map[string]*memNode),
		failCopy:   make(map[string]error),
		failCreate: make(map[string]error),
	}
}

// AddFolder creates a folder named name under parentID and returns its id.
// An empty parentID creates a top-level folder.
func (m *Memory) AddFolder(parentID, name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addLocked(parentID, name, true, nil).id
}

// AddFile creates a file named name with data under folderID.
func (m *Memory) AddFile(folderID, name string, data []byte) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addLocked(folderID, name, false, data).id
}

// Delete removes a node and its subtree.
func (m *Memory) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return
	}
	if parent, ok := m.nodes[n.parent]; ok {
		parent.children = slices.DeleteFunc(parent.children, func(c string) bool { return c == id })
	}
	m.deleteLocked(id)
}

// FailCopy makes every copy of a file named name fail with err.
func (m *Memory) FailCopy(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCopy[name] = err
}

// FailCreate makes every creation of a folder named name fail with err.
func (m *Memory) FailCreate(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCreate[name] = err
}

// OnCopy registers fn to run after every successful file copy.
func (m *Memory) OnCopy(fn func(name string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.copyHook = fn
}

// Copies returns the number of successful file copies.
func (m *Memory) Copies() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copies
}

// Snapshot renders the subtree under id as sorted slash paths, folders
// with a trailing slash. Duplicate names appear once per node.
func (m *Memory) Snapshot(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	var walk func(id, prefix string)
	walk = func(id, prefix string) {
		for _, c := range m.nodes[id].children {
			child := m.nodes[c]
			p := prefix + child.name
			if child.isDir {
				out = append(out, p+"/")
				walk(c, p+"/")
				continue
			}
			out = append(out, p)
		}
	}
	if _, ok := m.nodes[id]; ok {
		walk(id, "")
	}
	slices.Sort(out)
	return out
}

// Content returns the data of the first file named name under folderID.
func (m *Memory) Content(folderID, name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.childLocked(folderID, name, false)
	if !ok {
		return nil, false
	}
	return slices.Clone(n.data), true
}

func (m *Memory) Folder(_ context.Context, id string) (tree.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok || !n.isDir {
		return nil, fmt.Errorf("%w: folder %q", tree.ErrNotFound, id)
	}
	return &memFolder{m: m, id: id, name: n.name}, nil
}

func (*Memory) Close() error { return nil }

func (m *Memory) addLocked(parentID, name string, isDir bool, data []byte) *memNode {
	m.seq++
	n := &memNode{
		id:     fmt.Sprintf("n%d", m.seq),
		name:   name,
		parent: parentID,
		isDir:  isDir,
		data:   slices.Clone(data),
	}
	m.nodes[n.id] = n
	if parent, ok := m.nodes[parentID]; ok {
		parent.children = append(parent.children, n.id)
	}
	return n
}

func (m *Memory) deleteLocked(id string) {
	n := m.nodes[id]
	for _, c := range n.children {
		m.deleteLocked(c)
	}
	delete(m.nodes, id)
}

func (m *Memory) childLocked(folderID, name string, isDir bool) (*memNode, bool) {
	parent, ok := m.nodes[folderID]
	if !ok {
		return nil, false
	}
	for _, c := range parent.children {
		if n := m.nodes[c]; n.name == name && n.isDir == isDir {
			return n, true
		}
	}
	return nil, false
}

// children snapshots the child ids of a folder so iteration does not hold
// the lock across yields.
func (m *Memory) children(id string, isDir bool) ([]*memNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent, ok := m.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: folder %q", tree.ErrNotFound, id)
	}
	var out []*memNode
	for _, c := range parent.children {
		if n := m.nodes[c]; n.isDir == isDir {
			out = append(out, n)
		}
	}
	return out, nil
}

type memFolder struct {
	m    *Memory
	id   string
	name string
}

func (f *memFolder) ID() string   { return f.id }
func (f *memFolder) Name() string { return f.name }
func (f *memFolder) URL() string  { return "mem://" + f.id }

func (f *memFolder) Files(ctx context.Context) iter.Seq2[tree.File, error] {
	return func(yield func(tree.File, error) bool) {
		nodes, err := f.m.children(f.id, false)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, n := range nodes {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(&memFile{m: f.m, id: n.id, name: n.name, size: int64(len(n.data))}, nil) {
				return
			}
		}
	}
}

func (f *memFolder) Subfolders(ctx context.Context) iter.Seq2[tree.Folder, error] {
	return func(yield func(tree.Folder, error) bool) {
		nodes, err := f.m.children(f.id, true)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, n := range nodes {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(&memFolder{m: f.m, id: n.id, name: n.name}, nil) {
				return
			}
		}
	}
}

func (f *memFolder) FindFile(_ context.Context, name string) (tree.File, bool, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if _, ok := f.m.nodes[f.id]; !ok {
		return nil, false, fmt.Errorf("%w: folder %q", tree.ErrNotFound, f.id)
	}
	n, ok := f.m.childLocked(f.id, name, false)
	if !ok {
		return nil, false, nil
	}
	return &memFile{m: f.m, id: n.id, name: n.name, size: int64(len(n.data))}, true, nil
}

func (f *memFolder) FindFolder(_ context.Context, name string) (tree.Folder, bool, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if _, ok := f.m.nodes[f.id]; !ok {
		return nil, false, fmt.Errorf("%w: folder %q", tree.ErrNotFound, f.id)
	}
	n, ok := f.m.childLocked(f.id, name, true)
	if !ok {
		return nil, false, nil
	}
	return &memFolder{m: f.m, id: n.id, name: n.name}, true, nil
}

func (f *memFolder) CreateFolder(_ context.Context, name string) (tree.Folder, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err, ok := f.m.failCreate[name]; ok {
		return nil, fmt.Errorf("create folder %q: %w", name, err)
	}
	if _, ok := f.m.nodes[f.id]; !ok {
		return nil, fmt.Errorf("%w: folder %q", tree.ErrNotFound, f.id)
	}
	n := f.m.addLocked(f.id, name, true, nil)
	return &memFolder{m: f.m, id: n.id, name: n.name}, nil
}

type memFile struct {
	m    *Memory
	id   string
	name string
	size int64
}

func (f *memFile) ID() string   { return f.id }
func (f *memFile) Name() string { return f.name }
func (f *memFile) Size() int64  { return f.size }

func (f *memFile) CopyInto(_ context.Context, dst tree.Folder, name string) (tree.File, error) {
	target, ok := dst.(*memFolder)
	if !ok || target.m != f.m {
		return nil, fmt.Errorf("copy %q: destination is not in this provider", f.id)
	}

	f.m.mu.Lock()
	if err, ok := f.m.failCopy[f.name]; ok {
		f.m.mu.Unlock()
		return nil, fmt.Errorf("copy %q: %w", f.name, err)
	}
	src, ok := f.m.nodes[f.id]
	if !ok {
		f.m.mu.Unlock()
		return nil, fmt.Errorf("%w: file %q", tree.ErrNotFound, f.id)
	}
	if _, ok := f.m.nodes[target.id]; !ok {
		f.m.mu.Unlock()
		return nil, fmt.Errorf("%w: folder %q", tree.ErrNotFound, target.id)
	}
	n := f.m.addLocked(target.id, name, false, src.data)
	f.m.copies++
	hook := f.m.copyHook
	f.m.mu.Unlock()

	if hook != nil {
		hook(name)
	}
	return &memFile{m: f.m, id: n.id, name: n.name, size: int64(len(n.data))}, nil
}
