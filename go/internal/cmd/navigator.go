package main

import "github.com/rs/zerolog/log"

type navAction int

const (
	navQuit navAction = iota + 1
	navRestart
	navRequeue
	navLost
)

type navEvent struct {
	action navAction
	err    error
}

// navigator turns the match's screen requests into events for the session
// loop. It is called from the runner goroutine and never blocks; only the
// first request of a session is kept.
type navigator struct {
	events chan navEvent
}

func newNavigator() *navigator {
	return &navigator{events: make(chan navEvent, 1)}
}

func (n *navigator) push(ev navEvent) {
	select {
	case n.events <- ev:
	default:
		log.Debug().Int("action", int(ev.action)).Msg("navigation already pending")
	}
}

func (n *navigator) Quit()    { n.push(navEvent{action: navQuit}) }
func (n *navigator) Restart() { n.push(navEvent{action: navRestart}) }
func (n *navigator) Requeue() { n.push(navEvent{action: navRequeue}) }

func (n *navigator) ConnectionLost(err error) {
	n.push(navEvent{action: navLost, err: err})
}
