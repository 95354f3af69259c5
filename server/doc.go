// Package server implements the small FTP server bundled with ftpbridge.
//
// It exposes one local directory to one named account, plus optional
// read-only anonymous access, so a device can act as the relay's upstream
// without a separate FTP daemon. Only passive mode is supported.
//
//	driver, err := server.NewFSDriver("/sdcard",
//	    server.WithAccountHash("admin", "$2a$10$..."),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	s, err := server.NewServer(":2121",
//	    server.WithDriver(driver),
//	    server.WithMaxConnections(10),
//	    server.WithSettings(server.Settings{PasvMinPort: 30000, PasvMaxPort: 30010}),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(s.ListenAndServe())
//
// Supported commands: USER PASS QUIT NOOP SYST FEAT TYPE PWD CWD CDUP PASV
// EPSV LIST NLST RETR STOR DELE MKD RMD RNFR RNTO SIZE REST MDTM.
package server
