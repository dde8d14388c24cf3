package ticket_desk

// Version of the terminal build. Overridden at link time:
//
//	go build -ldflags "-X ticket_desk.Version=1.2.0" ./cmd
var Version = "0.9.0"
