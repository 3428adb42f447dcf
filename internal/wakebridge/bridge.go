// Package wakebridge forwards wake-word detections published by
// satellite devices over MQTT to the owning session.
//
// Satellites publish to {prefix}/{user}/wake; the payload is ignored.
// The bridge is optional and runs alongside the websocket transport so
// far-field microphones do not need a websocket client of their own.
package wakebridge

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/ankleBowl/LucyServer/internal/config"
	"github.com/ankleBowl/LucyServer/internal/session"
)

// Bridge owns the MQTT connection and the wake topic subscription.
type Bridge struct {
	cfg      config.MQTTConfig
	sessions *session.Store
	logger   *slog.Logger
	cm       *autopaho.ConnectionManager
}

// New creates a Bridge but does not connect. Call [Bridge.Start] to
// begin.
func New(cfg config.MQTTConfig, sessions *session.Store, logger *slog.Logger) *Bridge {
	return &Bridge{cfg: cfg, sessions: sessions, logger: logger}
}

// wakeTopic is the subscription filter.
func (b *Bridge) wakeTopic() string {
	return b.cfg.TopicPrefix + "/+/wake"
}

// Start connects to the broker and blocks until ctx is cancelled.
// autopaho reconnects and resubscribes in the background on broker
// restarts.
func (b *Bridge) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(b.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	topic := b.wakeTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: b.cfg.Username,
		ConnectPassword: []byte(b.cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			b.logger.Info("mqtt connected to broker", "broker", b.cfg.Broker)
			if _, err := cm.Subscribe(ctx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{
					{Topic: topic, QoS: 1},
				},
			}); err != nil {
				b.logger.Warn("mqtt subscribe failed", "topic", topic, "error", err)
			}
		},
		OnConnectError: func(err error) {
			b.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "lucy-wakebridge",
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					b.handleWake(ctx, pr.Packet.Topic)
					return true, nil
				},
			},
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	b.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		b.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	<-ctx.Done()

	disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return cm.Disconnect(disconnectCtx)
}

// handleWake resolves the publishing user from the topic and opens the
// session's listening window. Detections for users without an active
// session are dropped.
func (b *Bridge) handleWake(ctx context.Context, topic string) {
	user, ok := b.userFromTopic(topic)
	if !ok {
		b.logger.Warn("unexpected wake topic", "topic", topic)
		return
	}

	sess, found := b.sessions.Get(user)
	if !found {
		b.logger.Debug("wake word for inactive user", "user", user)
		return
	}
	b.logger.Debug("wake word detected", "user", user)
	sess.WakeWordDetected(ctx)
}

// userFromTopic extracts the user segment from {prefix}/{user}/wake.
func (b *Bridge) userFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != b.cfg.TopicPrefix || parts[2] != "wake" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
