package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/rs/zerolog/log"
)

type StompClient struct {
	Address     string
	Login       string
	Passcode    string
	Destination string

	Bridge  *Bridge
	Timeout time.Duration
}

// messageTopic prefers the broker supplied topic header, which carries the
// concrete topic when Destination is a wildcard.
func messageTopic(message *stomp.Message) string {
	if message.Header != nil {
		if topic := message.Header.Get("topic"); topic != "" {
			return topic
		}
	}

	return message.Destination
}

func (s *StompClient) connectOptions() []func(*stomp.Conn) error {
	stompOptions := []func(*stomp.Conn) error{
		stomp.ConnOpt.HeartBeat(30*time.Second, 30*time.Second),
	}
	if s.Login != "" {
		stompOptions = append(stompOptions, stomp.ConnOpt.Login(s.Login, s.Passcode))
	}

	return stompOptions
}

// Run forwards frames until ctx is done or the subscription fails. Frames are acked
// once published or dropped; a failed publish is nacked for redelivery.
func (s *StompClient) Run(ctx context.Context) error {
	conn, err := stomp.Dial("tcp", s.Address, s.connectOptions()...)
	if err != nil {
		return fmt.Errorf("cannot connect to stomp server: %w", err)
	}
	defer conn.Disconnect()

	sub, err := conn.Subscribe(s.Destination, stomp.AckClientIndividual)
	if err != nil {
		return fmt.Errorf("cannot subscribe to %s: %w", s.Destination, err)
	}
	defer sub.Unsubscribe()

	log.Info().Str("address", s.Address).Str("destination", s.Destination).Msg("Bridge subscribed")

	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-sub.C:
			if !ok {
				return fmt.Errorf("subscription to %s closed", s.Destination)
			}
			if message.Err != nil {
				return message.Err
			}

			s.handle(ctx, conn, message)
		}
	}
}

func (s *StompClient) handle(ctx context.Context, conn *stomp.Conn, message *stomp.Message) {
	topic := messageTopic(message)

	publishCtx, cancel := context.WithTimeout(ctx, s.Timeout)
	err := s.Bridge.Forward(publishCtx, topic, message.Body)
	cancel()

	switch {
	case err == nil:
		log.Debug().Str("topic", topic).Int("size", len(message.Body)).Msg("Forwarded vehicle position")
	case dropped(err):
		log.Error().Err(err).Str("topic", topic).Msg("Dropping frame")
	default:
		log.Error().Err(err).Str("topic", topic).Msg("Failed to publish frame")
		if err := conn.Nack(message); err != nil {
			log.Error().Err(err).Msg("Failed to nack frame")
		}
		return
	}

	if err := conn.Ack(message); err != nil {
		log.Error().Err(err).Msg("Failed to ack frame")
	}
}
