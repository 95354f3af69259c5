package server

import (
	"io"
	"os"
)

// Driver authenticates users and hands out a ClientContext for the
// lifetime of a logged-in session.
//
// Authenticate returns os.ErrPermission (or an error wrapping it) for bad
// credentials. The returned context is closed when the session ends.
type Driver interface {
	Authenticate(user, pass string) (ClientContext, error)
}

// ClientContext is one user's view of the storage.
//
// Paths are slash-separated and either absolute within the user's root or
// relative to the working directory. Implementations report missing paths
// with os.ErrNotExist, refused writes with os.ErrPermission and collisions
// with os.ErrExist; the session maps those to FTP replies.
type ClientContext interface {
	ChangeDir(path string) error
	GetWd() string

	MakeDir(path string) error
	RemoveDir(path string) error
	DeleteFile(path string) error
	Rename(from, to string) error

	ListDir(path string) ([]os.FileInfo, error)
	GetFileInfo(path string) (os.FileInfo, error)

	// OpenFile takes os.O_* flags. Files opened for reading must implement
	// io.Seeker for REST to work.
	OpenFile(path string, flag int) (io.ReadWriteCloser, error)

	Close() error
}

// Settings control passive mode.
type Settings struct {
	// PublicHost is the IPv4 address or hostname advertised in PASV
	// replies. Empty means the local address of the control connection.
	PublicHost string

	// PasvMinPort and PasvMaxPort bound the passive listener ports.
	// Zero lets the kernel pick.
	PasvMinPort int
	PasvMaxPort int
}
