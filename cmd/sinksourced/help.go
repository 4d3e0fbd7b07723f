package main

import (
	"fmt"

	"github.com/fatih/color"
)

const helpString = `Local frame ingestion and session signaling

Usage: sinksourced [OPTION]...

Command line options override the configuration file.

Configuration:
  -c, --config=FILE      YAML or JSON configuration file
      --log-level=DIRS   Logging directives, e.g. "info,ingest=debug"
                         (default: $LOGLEVEL)

Frame ingestion:
  -s, --socket=PATH      Socket the producer connects to
                         (default: /tmp/sinksource.sock)
  -f, --frame-size=NUM   Bytes per frame (default: 66666)
      --drop             Overwrite frames the consumer has not taken yet
                         instead of stalling the producer
      --stats=DURATION   Frame statistics interval (default: 10s)

Signaling:
  -l, --listen=ADDR      Answer offers on this TCP address
                         (default: 127.0.0.1:5567)
  -w, --websocket=ADDR   Answer offers over a websocket at ADDR/ws
  -r, --remote=ADDR      Dial this signaling peer, retrying every 5s
      --role=ROLE        After dialing, "answer" or "offer" (default: answer)
      --redial           Dial again when the exchange ends
  -p, --peer=KIND        "webrtc" or "static" (default: webrtc)
      --ice-server=URL   STUN/TURN server, may be repeated

Miscellaneous:
  -h, --help             Prints this help message and exits
  -v, --version          Prints version information and exits`

// Left and right halves of the banner.
var (
	bannerSink = []string{
		`     _       _    `,
		` ___(_)_ __ | | __`,
		`/ __| | '_ \| |/ /`,
		`\__ \ | | | |   < `,
		`|___/_|_| |_|_|\_\`,
	}
	bannerSource = []string{
		``,
		` ___  ___  _   _ _ __ ___ ___ `,
		`/ __|/ _ \| | | | '__/ __/ _ \`,
		`\__ \ (_) | |_| | | | (_|  __/`,
		`|___/\___/ \__,_|_|  \___\___|`,
	}
)

// Help information is printed and program exits
func help() {
	r := color.New(color.FgRed)
	b := color.New(color.FgCyan)

	for i := range bannerSink {
		r.Print(bannerSink[i])
		b.Println(bannerSource[i])
	}

	fmt.Println(helpString)
}
