package service

import (
	"github.com/vibely/realtime-server-go/internal/events"
)

// delivery is a push collected under a lock and sent after it is released.
type delivery struct {
	to string
	ev events.Event
}

func deliverAll(pusher Pusher, deliveries []delivery) {
	for _, d := range deliveries {
		pusher.Send(d.to, d.ev)
	}
}
