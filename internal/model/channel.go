package model

import (
	"fmt"
	"strings"
)

// Channel 投递渠道
type Channel int

const (
	ChannelPush Channel = iota
	ChannelEmail
)

// PerChannel 每个渠道一个值，只能通过 NewPerChannel 按位置构造
type PerChannel[T any] struct {
	push  T
	email T
}

func NewPerChannel[T any](push, email T) PerChannel[T] {
	return PerChannel[T]{push: push, email: email}
}

func (p PerChannel[T]) Get(c Channel) T {
	switch c {
	case ChannelPush:
		return p.push
	case ChannelEmail:
		return p.email
	}
	panic(fmt.Sprintf("model: unknown channel %d", int(c)))
}

func (p *PerChannel[T]) Set(c Channel, v T) {
	switch c {
	case ChannelPush:
		p.push = v
	case ChannelEmail:
		p.email = v
	default:
		panic(fmt.Sprintf("model: unknown channel %d", int(c)))
	}
}

var channelIDs = NewPerChannel("push", "email")

// AllChannels 投递顺序：先 push 后 email
func AllChannels() []Channel {
	return []Channel{ChannelPush, ChannelEmail}
}

func (c Channel) Valid() bool {
	return c == ChannelPush || c == ChannelEmail
}

func (c Channel) String() string {
	if !c.Valid() {
		return fmt.Sprintf("channel(%d)", int(c))
	}
	return channelIDs.Get(c)
}

func ParseChannel(s string) (Channel, error) {
	for _, c := range AllChannels() {
		if channelIDs.Get(c) == strings.ToLower(strings.TrimSpace(s)) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown channel %q", s)
}

// ParseChannelSet 解析 "push,email"，空串表示全部渠道
func ParseChannelSet(s string) (PerChannel[bool], error) {
	if strings.TrimSpace(s) == "" {
		return NewPerChannel(true, true), nil
	}
	return ParseChannelList(strings.Split(s, ","))
}

func ParseChannelList(items []string) (PerChannel[bool], error) {
	if len(items) == 0 {
		return NewPerChannel(true, true), nil
	}
	enabled := NewPerChannel(false, false)
	for _, item := range items {
		c, err := ParseChannel(item)
		if err != nil {
			return enabled, err
		}
		enabled.Set(c, true)
	}
	return enabled, nil
}

func (c Channel) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("unknown channel %d", int(c))
	}
	return []byte(c.String()), nil
}

func (c *Channel) UnmarshalText(b []byte) error {
	parsed, err := ParseChannel(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
