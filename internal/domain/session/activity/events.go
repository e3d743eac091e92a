// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package activity

import (
	"fmt"
	"strings"

	"github.com/ManuGH/vegtrace/internal/domain/session/model"
)

// Kind names a raw input event.
type Kind string

const (
	KindPointerDown Kind = "pointerdown"
	KindPointerMove Kind = "pointermove"
	KindPointerUp   Kind = "pointerup"
	KindClick       Kind = "click"
	KindKeyDown     Kind = "keydown"
	KindKeyUp       Kind = "keyup"
	KindTouchStart  Kind = "touchstart"
	KindTouchMove   Kind = "touchmove"
	KindTouchEnd    Kind = "touchend"
	KindScroll      Kind = "scroll"
	KindWheel       Kind = "wheel"
	KindFocus       Kind = "focus"
	KindBlur        Kind = "blur"
	KindVisible     Kind = "visible"
	KindHidden      Kind = "hidden"
	KindOrientation Kind = "orientationchange"
	KindMotion      Kind = "devicemotion"
)

var knownKinds = map[Kind]struct{}{
	KindPointerDown: {},
	KindPointerMove: {},
	KindPointerUp:   {},
	KindClick:       {},
	KindKeyDown:     {},
	KindKeyUp:       {},
	KindTouchStart:  {},
	KindTouchMove:   {},
	KindTouchEnd:    {},
	KindScroll:      {},
	KindWheel:       {},
	KindFocus:       {},
	KindBlur:        {},
	KindVisible:     {},
	KindHidden:      {},
	KindOrientation: {},
	KindMotion:      {},
}

// ParseKind accepts the event names above, case-insensitively.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := knownKinds[k]; !ok {
		return "", fmt.Errorf("unknown input kind %q", s)
	}
	return k, nil
}

// RawEvent is one occurrence of user or device input.
type RawEvent struct {
	Kind Kind `json:"kind"`
	// Touches is the number of contact points for touch events.
	Touches int `json:"touches,omitempty"`
	// Magnitude is the acceleration magnitude for motion events.
	Magnitude float64 `json:"magnitude,omitempty"`
}

type visibilityChange int

const (
	visibilityUnchanged visibilityChange = iota
	visibilityHidden
	visibilityVisible
)

type category int

const (
	catNone category = iota
	catPointer
	catKey
	catScroll
	catTouch
	catGesture
	catOrientation
	catMotion
	catFocus
)

// Classification is how the sensor interprets a raw event.
type Classification struct {
	activity   bool
	visibility visibilityChange
	cat        category
}

// Activity reports whether the event counts as user presence.
func (c Classification) Activity() bool { return c.activity }

// Hidden reports whether the event moves the tab to the background.
func (c Classification) Hidden() bool { return c.visibility == visibilityHidden }

func (c Classification) count(dst *model.ActivityCounts) {
	switch c.cat {
	case catPointer:
		dst.Pointer++
	case catKey:
		dst.Key++
	case catScroll:
		dst.Scroll++
	case catTouch:
		dst.Touch++
	case catGesture:
		dst.Gesture++
	case catOrientation:
		dst.Orientation++
	case catMotion:
		dst.Motion++
	case catFocus:
		dst.Focus++
	}
}

// Classify maps ev to a classification under the given capabilities.
// Backgrounding events never count as activity.
func Classify(ev RawEvent, caps model.Capabilities) Classification {
	switch ev.Kind {
	case KindPointerDown, KindPointerMove, KindPointerUp, KindClick:
		return Classification{activity: true, cat: catPointer}
	case KindKeyDown, KindKeyUp:
		return Classification{activity: true, cat: catKey}
	case KindScroll, KindWheel:
		return Classification{activity: true, cat: catScroll}
	case KindTouchStart, KindTouchMove, KindTouchEnd:
		if caps.Mobile && ev.Kind == KindTouchStart && ev.Touches > 1 {
			return Classification{activity: true, cat: catGesture}
		}
		return Classification{activity: true, cat: catTouch}
	case KindOrientation:
		return Classification{activity: true, cat: catOrientation}
	case KindMotion:
		if caps.MotionDetection && ev.Magnitude > MotionThreshold {
			return Classification{activity: true, cat: catMotion}
		}
		return Classification{}
	case KindFocus:
		if !caps.Focus {
			return Classification{activity: true, cat: catFocus}
		}
		return Classification{activity: true, visibility: visibilityVisible, cat: catFocus}
	case KindBlur:
		if !caps.Focus {
			return Classification{}
		}
		return Classification{visibility: visibilityHidden}
	case KindVisible:
		if !caps.Visibility {
			return Classification{activity: true, cat: catFocus}
		}
		return Classification{activity: true, visibility: visibilityVisible, cat: catFocus}
	case KindHidden:
		if !caps.Visibility {
			return Classification{}
		}
		return Classification{visibility: visibilityHidden}
	}
	return Classification{}
}
