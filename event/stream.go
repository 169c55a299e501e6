package event

import (
	"errors"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

var (
	ErrStreamClosed  = errors.New("cannot notify closed stream")
	ErrStreamTimeout = errors.New("timed out sending message to stream")
	ErrStreamFull    = errors.New("stream buffer is full")
)

type Stream[E any] interface {
	ID() string
	Notify(event E, timeout time.Duration) error
	Close()
}

// ProtoEventStream buffers the proto rendering of events for one subscriber.
// A subscriber that does not drain the buffer within the notify timeout is
// closed. With a non-positive timeout, Notify never blocks and a full buffer
// closes the stream immediately.
type ProtoEventStream[E any, P proto.Message] struct {
	sync.Mutex

	id string

	closed   bool
	ch       chan P
	selector func(E) (P, bool)
}

func NewProtoEventStream[E any, P proto.Message](
	id string,
	bufferSize int,
	selector func(event E) (P, bool),
) *ProtoEventStream[E, P] {
	return &ProtoEventStream[E, P]{
		id:       id,
		ch:       make(chan P, bufferSize),
		selector: selector,
	}
}

// NewEventStream streams premium events as structs.
func NewEventStream(id string, bufferSize int) *ProtoEventStream[*Event, *structpb.Struct] {
	return NewProtoEventStream(id, bufferSize, func(e *Event) (*structpb.Struct, bool) {
		s, err := e.ToStruct()
		if err != nil {
			return nil, false
		}
		return s, true
	})
}

func (s *ProtoEventStream[E, P]) ID() string {
	return s.id
}

func (s *ProtoEventStream[E, P]) Notify(event E, timeout time.Duration) error {
	msg, ok := s.selector(event)
	if !ok {
		return nil
	}

	s.Lock()
	defer s.Unlock()

	if s.closed {
		return ErrStreamClosed
	}

	if timeout <= 0 {
		select {
		case s.ch <- msg:
			return nil
		default:
			s.closeLocked()
			return ErrStreamFull
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.ch <- msg:
		return nil
	case <-timer.C:
		s.closeLocked()
		return ErrStreamTimeout
	}
}

func (s *ProtoEventStream[E, P]) Channel() <-chan P {
	return s.ch
}

func (s *ProtoEventStream[E, P]) Close() {
	s.Lock()
	defer s.Unlock()

	s.closeLocked()
}

func (s *ProtoEventStream[E, P]) closeLocked() {
	if s.closed {
		return
	}

	s.closed = true
	close(s.ch)
}
