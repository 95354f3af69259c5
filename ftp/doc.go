// Package ftp is a small FTP client engine built for relaying files.
//
// It speaks plain FTP over IPv4 with passive mode only and covers the
// commands a relay needs: login, TYPE, SIZE, REST, RETR, STOR, DELE and LIST.
// Every control reply is read through a fixed-size buffer with a deadline,
// so a slow or hostile server cannot make the client block forever or
// allocate without bound.
//
// # Basic Usage
//
//	s, err := ftp.Connect(ctx, "192.168.1.20:21", "user", "secret")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	dl, err := s.Retrieve(ctx, "music/track.mp3", 0)
//	if err != nil {
//	    return err
//	}
//	if _, err := io.Copy(w, dl); err != nil {
//	    dl.Abort()
//	    return err
//	}
//	return dl.Finish()
//
// # Errors
//
// Failures are classified with sentinel errors (ErrDNS, ErrSocket,
// ErrTimeout, ErrNotFound, ErrReplyTooLong) that can be matched with
// errors.Is. Unexpected reply codes are reported as *ProtocolError, which
// carries the command, the reply text and the code.
package ftp
