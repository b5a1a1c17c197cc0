package mapperutil

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Notifies about the modifications of a single file. It watches the
// parent directory so that the file replaced by an editor (written to a
// temporary file and renamed) is still tracked.
type FileWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	changes chan struct{}
	wg      sync.WaitGroup
}

// Starts watching the file. The parent directory must exist.
func NewFileWatcher(path string) (*FileWatcher, error) {
	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot resolve the directory of '%s'", path)
	}
	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot resolve the directory of '%s'", path)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "cannot create the file watcher")
	}
	if err = watcher.Add(realDir); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "cannot watch the '%s' directory", realDir)
	}

	fw := &FileWatcher{
		path:    filepath.Join(realDir, filepath.Base(path)),
		watcher: watcher,
		changes: make(chan struct{}, 1),
	}
	fw.wg.Add(1)
	go fw.loop()

	log.WithField("file", fw.path).Info("Watching file")
	return fw, nil
}

// Returns the channel receiving a value after the file is created or
// written. The notifications not consumed yet are coalesced.
func (fw *FileWatcher) Changes() <-chan struct{} {
	return fw.changes
}

func (fw *FileWatcher) loop() {
	defer fw.wg.Done()
	for {
		select {
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Error("Received error from watcher")
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Name != fw.path {
				continue
			}
			log.WithField("event", event).Debug("FsNotify event received")
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			select {
			case fw.changes <- struct{}{}:
			default:
			}
		}
	}
}

// Stops watching the file.
func (fw *FileWatcher) Close() error {
	err := fw.watcher.Close()
	fw.wg.Wait()
	return errors.Wrap(err, "cannot close the file watcher")
}
