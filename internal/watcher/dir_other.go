//go:build !linux

package watcher

func newNativeWatcher(dir string) (Source, error) {
	return nil, errNotSupported
}
