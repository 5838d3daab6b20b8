// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package fs is the component 5 filesystem adapter (spec.md §4.5): a
// read/write FUSE presentation of a registry.Tree, structurally the same
// job gcsfuse's fs.go does for a GCS bucket, generalized from objects and
// generations to directory headers and table entries.
//
// The adapter never reaches into package registry's unexported header type;
// everything it needs crosses through registry/adapter.go's *Handle-typed
// boundary API.
package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/timeutil"

	"github.com/opensysctl/sysctlfs/internal/logger"
	"github.com/opensysctl/sysctlfs/internal/metrics"
	"github.com/opensysctl/sysctlfs/registry"
)

// ServerConfig mirrors gcsfuse's fs.ServerConfig: the handful of knobs a
// mount needs beyond the tree itself. There is no per-call namespace
// resolution here (spec.md leaves mapping a FUSE caller's network namespace
// back to a registry.Group as an implementation detail of whatever embeds
// this package); a mount presents exactly one Group's view of the tree,
// ordinarily tree.RootGroup().
type ServerConfig struct {
	Tree  *registry.Tree
	Group *registry.Group
	Clock timeutil.Clock

	// Uid/Gid are the user and group owning everything in the file
	// system, the same simplification gcsfuse's ServerConfig makes:
	// there is no per-entry owner in the data model, only a mode.
	Uid uint32
	Gid uint32
}

// NewServer builds a fuse.Server presenting cfg.Tree through cfg.Group.
func NewServer(cfg *ServerConfig) (fuse.Server, error) {
	if cfg.Tree == nil {
		return nil, fmt.Errorf("fs: ServerConfig.Tree is required")
	}
	if cfg.Group == nil {
		cfg.Group = cfg.Tree.RootGroup()
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock()
	}

	fs := &fileSystem{
		tree:   cfg.Tree,
		group:  cfg.Group,
		clock:  cfg.Clock,
		owner:  registry.Owner{Uid: cfg.Uid, Gid: cfg.Gid},
		inodes: make(map[fuseops.InodeID]*inodeRecord),
		byHandle: make(map[*registry.Handle]fuseops.InodeID),
		byEntry:  make(map[*registry.Entry]fuseops.InodeID),
		dirs:     make(map[fuseops.HandleID]*dirHandle),
	}

	root := cfg.Tree.RootHandle()
	if err := cfg.Tree.AcquireFs(root); err != nil {
		return nil, fmt.Errorf("fs: acquire root: %w", err)
	}
	fs.inodes[fuseops.RootInodeID] = &inodeRecord{
		isDir:       true,
		dir:         root,
		parent:      fuseops.RootInodeID,
		lookupCount: 1,
	}
	fs.byHandle[root] = fuseops.RootInodeID
	fs.nextInode = fuseops.RootInodeID + 1

	return fuseutil.NewFileSystemServer(fs), nil
}

// inodeRecord is what fileSystem.inodes keys every live fuseops.InodeID to:
// either a directory handle or an (owner table handle, entry) pair,
// depending on isDir. parent records the inode of the directory this inode
// was reached through, so ReadDir can answer "..".
type inodeRecord struct {
	isDir bool

	// isDir == true
	dir *registry.Handle

	// isDir == false
	owner *registry.Handle
	entry *registry.Entry

	parent      fuseops.InodeID
	lookupCount uint64
}

// dirHandle is the state OpenDir mints and ReadDir/ReleaseDirHandle consume.
// It carries no cursor of its own: ReadDir is stateless across calls,
// re-deriving its position from op.Offset the way gcsfuse's dirHandle
// re-lists from GCS on every call rather than caching a snapshot.
type dirHandle struct {
	inode fuseops.InodeID
}

// fileSystem implements fuseutil.FileSystem. Every method that isn't a
// pure inode-table lookup is grounded on the method of the same name in
// gcsfuse's fs.go, generalized from GCS objects/generations to registry
// handles/entries.
type fileSystem struct {
	tree  *registry.Tree
	group *registry.Group
	clock timeutil.Clock
	owner registry.Owner

	mu sync.Mutex // guards everything below

	inodes    map[fuseops.InodeID]*inodeRecord
	byHandle  map[*registry.Handle]fuseops.InodeID
	byEntry   map[*registry.Entry]fuseops.InodeID
	nextInode fuseops.InodeID

	dirs      map[fuseops.HandleID]*dirHandle
	nextDir   fuseops.HandleID
	nextFileH fuseops.HandleID
}

var _ fuseutil.FileSystem = (*fileSystem)(nil)

func (fs *fileSystem) Init(ctx context.Context, op *fuseops.InitOp) error {
	return nil
}

// mintDirLocked returns the stable inode ID for child, minting one (and
// pinning child with an fs-ref) the first time it's seen. fs.mu must be
// held.
func (fs *fileSystem) mintDirLocked(parent fuseops.InodeID, child *registry.Handle) (fuseops.InodeID, error) {
	if id, ok := fs.byHandle[child]; ok {
		fs.inodes[id].lookupCount++
		return id, nil
	}
	if err := fs.tree.AcquireFs(child); err != nil {
		return 0, err
	}
	id := fs.nextInode
	fs.nextInode++
	fs.inodes[id] = &inodeRecord{isDir: true, dir: child, parent: parent, lookupCount: 1}
	fs.byHandle[child] = id
	return id, nil
}

// mintFileLocked is mintDirLocked's counterpart for table entries. A table
// header can own many entries, so the entry pointer, not the owning
// handle, is the dedup key.
func (fs *fileSystem) mintFileLocked(parent fuseops.InodeID, owner *registry.Handle, entry *registry.Entry) (fuseops.InodeID, error) {
	if id, ok := fs.byEntry[entry]; ok {
		fs.inodes[id].lookupCount++
		return id, nil
	}
	if err := fs.tree.AcquireFs(owner); err != nil {
		return 0, err
	}
	id := fs.nextInode
	fs.nextInode++
	fs.inodes[id] = &inodeRecord{isDir: false, owner: owner, entry: entry, parent: parent, lookupCount: 1}
	fs.byEntry[entry] = id
	return id, nil
}

func (fs *fileSystem) recordLocked(id fuseops.InodeID) (*inodeRecord, error) {
	rec, ok := fs.inodes[id]
	if !ok {
		return nil, fmt.Errorf("fs: unknown inode %d", id)
	}
	return rec, nil
}

const (
	dirPerm  = os.FileMode(0o755) | os.ModeDir
	attrsTTL = 0 // always revalidate; the registry can change under us at any time.
)

func (fs *fileSystem) dirAttributes() fuseops.InodeAttributes {
	now := fs.clock.Now()
	return fuseops.InodeAttributes{
		Nlink: 1,
		Mode:  dirPerm,
		Uid:   fs.owner.Uid,
		Gid:   fs.owner.Gid,
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
}

func (fs *fileSystem) entryAttributes(owner *registry.Handle, entry *registry.Entry) fuseops.InodeAttributes {
	now := fs.clock.Now()
	mode := registry.EffectiveMode(owner.Group(), entry)
	return fuseops.InodeAttributes{
		Nlink: 1,
		Mode:  mode,
		Size:  0,
		Uid:   fs.owner.Uid,
		Gid:   fs.owner.Gid,
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
}

func (fs *fileSystem) attributesFor(rec *inodeRecord) fuseops.InodeAttributes {
	if rec.isDir {
		return fs.dirAttributes()
	}
	return fs.entryAttributes(rec.owner, rec.entry)
}

func (fs *fileSystem) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	fs.mu.Lock()
	parentRec, err := fs.recordLocked(op.Parent)
	fs.mu.Unlock()
	if err != nil {
		return syscall.ENOENT
	}
	if !parentRec.isDir {
		return syscall.ENOTDIR
	}

	child, entry, owner, err := fs.tree.Lookup(parentRec.dir, fs.group, op.Name)
	if err != nil {
		return mapErr(err)
	}

	fs.mu.Lock()
	var id fuseops.InodeID
	if child != nil {
		id, err = fs.mintDirLocked(op.Parent, child)
	} else {
		id, err = fs.mintFileLocked(op.Parent, owner, entry)
	}
	rec := fs.inodes[id]
	fs.mu.Unlock()
	if err != nil {
		return mapErr(err)
	}

	op.Entry.Child = id
	op.Entry.Attributes = fs.attributesFor(rec)
	op.Entry.AttributesExpiration = time.Now().Add(attrsTTL)
	op.Entry.EntryExpiration = time.Now().Add(attrsTTL)
	return nil
}

func (fs *fileSystem) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	fs.mu.Lock()
	rec, err := fs.recordLocked(op.Inode)
	fs.mu.Unlock()
	if err != nil {
		return syscall.ENOENT
	}
	op.Attributes = fs.attributesFor(rec)
	op.AttributesExpiration = time.Now().Add(attrsTTL)
	return nil
}

// SetInodeAttributes always refuses: sysctl entries have no notion of
// chmod/chown/truncate independent of the value a write encodes, the same
// restriction the kernel's own /proc/sys enforces.
func (fs *fileSystem) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	fs.mu.Lock()
	rec, err := fs.recordLocked(op.Inode)
	fs.mu.Unlock()
	if err != nil {
		return syscall.ENOENT
	}
	if op.Mode != nil || op.Uid != nil || op.Gid != nil || op.Size != nil {
		return syscall.EPERM
	}
	op.Attributes = fs.attributesFor(rec)
	return nil
}

func (fs *fileSystem) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec, ok := fs.inodes[op.Inode]
	if !ok {
		return nil
	}
	if op.N >= rec.lookupCount {
		rec.lookupCount = 0
	} else {
		rec.lookupCount -= op.N
	}
	if rec.lookupCount > 0 {
		return nil
	}

	if rec.isDir {
		fs.tree.ReleaseFs(rec.dir)
		delete(fs.byHandle, rec.dir)
	} else {
		fs.tree.ReleaseFs(rec.owner)
		delete(fs.byEntry, rec.entry)
	}
	delete(fs.inodes, op.Inode)
	return nil
}

// The following nine are unreachable in the scope spec.md draws for this
// filesystem: topology is mutated only by Register/Unregister, never by
// mkdir(2)/creat(2)/etc. against the mount. Returning ENOSYS here matches
// fuseutil.NotImplementedFileSystem's behavior for the same calls in the
// upstream package, without embedding it (its op-responds-itself
// convention belongs to an older generation of this API than the
// return-error one the rest of this file implements).

func (fs *fileSystem) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	return syscall.ENOSYS
}

func (fs *fileSystem) MkNode(ctx context.Context, op *fuseops.MkNodeOp) error {
	return syscall.ENOSYS
}

func (fs *fileSystem) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	return syscall.ENOSYS
}

func (fs *fileSystem) CreateSymlink(ctx context.Context, op *fuseops.CreateSymlinkOp) error {
	return syscall.ENOSYS
}

func (fs *fileSystem) CreateLink(ctx context.Context, op *fuseops.CreateLinkOp) error {
	return syscall.ENOSYS
}

func (fs *fileSystem) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	return syscall.ENOSYS
}

func (fs *fileSystem) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	return syscall.ENOSYS
}

func (fs *fileSystem) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	return syscall.ENOSYS
}

func (fs *fileSystem) ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) error {
	return syscall.ENOSYS
}

func (fs *fileSystem) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec, err := fs.recordLocked(op.Inode)
	if err != nil {
		return syscall.ENOENT
	}
	if !rec.isDir {
		return syscall.ENOTDIR
	}

	id := fs.nextDir
	fs.nextDir++
	fs.dirs[id] = &dirHandle{inode: op.Inode}
	op.Handle = id
	return nil
}

// ReadDir serves "." and ".." out of the inode table directly, then
// delegates everything past cursor 2 to registry.Tree.ReadDir, minting a
// placeholder inode number for each name: the kernel always issues a
// separate LookUpInode before stat'ing or opening anything it sees in a
// directory listing, so the Dirent.Inode value here is advisory only.
func (fs *fileSystem) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	fs.mu.Lock()
	dh, ok := fs.dirs[op.Handle]
	if !ok {
		fs.mu.Unlock()
		return syscall.EINVAL
	}
	rec, err := fs.recordLocked(dh.inode)
	fs.mu.Unlock()
	if err != nil {
		return syscall.ENOENT
	}

	const placeholderInode = fuseops.InodeID(^uint64(0) >> 1)

	buf := make([]byte, op.Size)
	pos := 0
	offset := int(op.Offset)

	appendEntry := func(name string, inode fuseops.InodeID, dtype fuseops.DirentType, nextOffset int) bool {
		d := fuseops.Dirent{
			Offset: fuseops.DirOffset(nextOffset),
			Inode:  inode,
			Name:   name,
			Type:   dtype,
		}
		n := fuseutil.WriteDirent(buf[pos:], d)
		if n == 0 {
			return false
		}
		pos += n
		return true
	}

	if offset == 0 {
		if !appendEntry(".", dh.inode, fuseops.DT_Directory, 1) {
			op.Data = buf[:pos]
			return nil
		}
		offset = 1
	}
	if offset == 1 {
		if !appendEntry("..", rec.parent, fuseops.DT_Directory, 2) {
			op.Data = buf[:pos]
			return nil
		}
		offset = 2
	}

	full := true
	emit := func(e registry.DirEntry) bool {
		dtype := fuseops.DT_File
		if e.IsDir {
			dtype = fuseops.DT_Directory
		}
		if !appendEntry(e.Name, placeholderInode, dtype, offset+1) {
			full = false
			return false
		}
		offset++
		return true
	}

	_, err = fs.tree.ReadDir(rec.dir, fs.group, offset-2, emit)
	if err != nil && full {
		return mapErr(err)
	}
	op.Data = buf[:pos]
	return nil
}

func (fs *fileSystem) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.dirs, op.Handle)
	return nil
}

// OpenFile implements spec.md §4.5 "permission(inode, mask)" at the one
// point jacobsa/fuse's fuseutil.FileSystem interface actually exposes an
// access-mode request: there is no standalone Access op in this API
// generation (unlike a POSIX access(2) call), so the mode implied by
// op.Flags is what gets checked, mirroring the kernel's own "check once at
// open, trust the handle thereafter" behavior.
func (fs *fileSystem) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	fs.mu.Lock()
	rec, err := fs.recordLocked(op.Inode)
	fs.mu.Unlock()
	if err != nil {
		return syscall.ENOENT
	}
	if rec.isDir {
		return syscall.EISDIR
	}

	access := registry.AccessRead
	switch int(op.Flags) & syscall.O_ACCMODE {
	case syscall.O_WRONLY:
		access = registry.AccessWrite
	case syscall.O_RDWR:
		access = registry.AccessRead | registry.AccessWrite
	}
	mode := registry.EffectiveMode(rec.owner.Group(), rec.entry)
	caller := registry.Caller{Uid: op.Header.Uid, Gid: op.Header.Gid}
	if err := registry.CheckAccess(mode, fs.owner, caller, access); err != nil {
		logger.Debugf("fs: open %s: %v", rec.entry.Name, err)
		return mapErr(err)
	}

	fs.mu.Lock()
	id := fs.nextFileH
	fs.nextFileH++
	op.Handle = id
	fs.mu.Unlock()
	return nil
}

func (fs *fileSystem) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	fs.mu.Lock()
	rec, err := fs.recordLocked(op.Inode)
	fs.mu.Unlock()
	if err != nil {
		return syscall.ENOENT
	}
	if rec.isDir {
		return syscall.EISDIR
	}

	start := fs.clock.Now()
	buf := make([]byte, op.Size)
	lenp := op.Size
	ppos := op.Offset
	n, err := fs.tree.IO(ctx, rec.owner, fs.group, rec.entry, false, buf, &lenp, &ppos)
	metrics.OpsLatencySeconds.WithLabelValues(metrics.OpRead).Observe(fs.clock.Since(start).Seconds())
	if err != nil {
		metrics.OpsErrorCount.WithLabelValues(metrics.OpRead, metrics.ErrorClass(err)).Inc()
		logger.Debugf("fs: read %s: %v", rec.entry.Name, err)
		return mapErr(err)
	}
	metrics.OpsCount.WithLabelValues(metrics.OpRead).Inc()
	op.Data = buf[:n]
	return nil
}

func (fs *fileSystem) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	fs.mu.Lock()
	rec, err := fs.recordLocked(op.Inode)
	fs.mu.Unlock()
	if err != nil {
		return syscall.ENOENT
	}
	if rec.isDir {
		return syscall.EISDIR
	}

	start := fs.clock.Now()
	lenp := len(op.Data)
	ppos := op.Offset
	_, err = fs.tree.IO(ctx, rec.owner, fs.group, rec.entry, true, op.Data, &lenp, &ppos)
	metrics.OpsLatencySeconds.WithLabelValues(metrics.OpWrite).Observe(fs.clock.Since(start).Seconds())
	if err != nil {
		metrics.OpsErrorCount.WithLabelValues(metrics.OpWrite, metrics.ErrorClass(err)).Inc()
		logger.Debugf("fs: write %s: %v", rec.entry.Name, err)
		return mapErr(err)
	}
	metrics.OpsCount.WithLabelValues(metrics.OpWrite).Inc()
	return nil
}

func (fs *fileSystem) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	return nil
}

func (fs *fileSystem) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	return nil
}

// mapErr translates a registry sentinel error into the errno the kernel
// expects at this boundary, per spec.md §6.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, registry.ErrEntryGone), errors.Is(err, registry.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, registry.ErrPermission):
		return syscall.EPERM
	case errors.Is(err, registry.ErrReadOnly):
		return syscall.EACCES
	case errors.Is(err, registry.ErrInvalid):
		return syscall.EINVAL
	case errors.Is(err, registry.ErrNoMemory):
		return syscall.ENOMEM
	case errors.Is(err, registry.ErrFault):
		return syscall.EFAULT
	case errors.Is(err, registry.ErrNameCollision), errors.Is(err, registry.ErrCorrespondentCollision):
		return syscall.EEXIST
	default:
		return err
	}
}
