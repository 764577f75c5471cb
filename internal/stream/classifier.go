package stream

import "github.com/prudhvinik1/syncbridge/internal/models"

type Class string

const (
	ClassBusiness Class = "business"
	ClassSystem   Class = "system"
)

// Classifier separates business events from engine chatter. Notifications
// are always business events. Commands are business events only when they
// are on the allow-list.
type Classifier struct {
	commands map[string]struct{}
}

func NewClassifier(commands ...string) *Classifier {
	c := &Classifier{commands: make(map[string]struct{}, len(commands))}
	for _, name := range commands {
		c.commands[name] = struct{}{}
	}
	return c
}

func (c *Classifier) Classify(ev models.RawEvent) Class {
	switch ev.Kind {
	case models.KindNotify:
		return ClassBusiness
	case models.KindCommand:
		if _, ok := c.commands[ev.Name]; ok {
			return ClassBusiness
		}
	}
	return ClassSystem
}
