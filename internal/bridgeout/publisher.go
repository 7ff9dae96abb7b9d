// Package bridgeout publishes HashLocked events to the external
// bridge-out worker over AMQP.
package bridgeout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/streadway/amqp"
)

const exchange = "ethscriptions.bridge"
const routingKey = "out"

// Publisher is the derived.BridgeOut implementation backed by a
// streadway/amqp channel.
type Publisher struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	log  log.Logger
}

// Dial connects to url and declares the topic exchange the bridge-out
// worker consumes from.
func Dial(url string, logger log.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("bridgeout: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("bridgeout: channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("bridgeout: declare exchange: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, log: logger}, nil
}

type lockMessage struct {
	HashID    string `json:"hashId"`
	PrevOwner string `json:"prevOwner"`
}

// Enqueue publishes hashID/prevOwner to ethscriptions.bridge.out.
func (p *Publisher) Enqueue(ctx context.Context, hashID common.Hash, prevOwner common.Address) error {
	body, err := json.Marshal(lockMessage{HashID: hashID.Hex(), PrevOwner: prevOwner.Hex()})
	if err != nil {
		return err
	}
	return p.ch.Publish(exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
	})
}

func (p *Publisher) Close() error {
	if err := p.ch.Close(); err != nil {
		return err
	}
	return p.conn.Close()
}
