// Copyright 2025 Praxis Works
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dispatch

import (
	"context"
	"log/slog"

	"github.com/mitchellh/mapstructure"

	"github.com/praxisworks/praxis/pkg/protocol"
	"github.com/praxisworks/praxis/pkg/store"
)

// StreamInput is one transport request.
type StreamInput struct {
	SessionID  string
	Message    string
	Platform   string
	PlatformID string
	History    []protocol.Message
	Metadata   map[string]any
}

// requestMeta is the typed view of the transport-provided metadata map.
// Unknown keys pass through to the orchestrator untouched.
type requestMeta struct {
	UserEmail      string `mapstructure:"user_email"`
	ContextID      string `mapstructure:"context_id"`
	ForceRoute     string `mapstructure:"force_route"`
	ScheduledJobID string `mapstructure:"scheduled_job_id"`
	HitlResume     string `mapstructure:"hitl_resume"`
}

func decodeMeta(metadata map[string]any) requestMeta {
	var meta requestMeta
	if err := mapstructure.Decode(metadata, &meta); err != nil {
		slog.Warn("Metadata decode failed, continuing with defaults", "error", err)
	}
	return meta
}

// Dispatcher is the contract transports consume. It resolves or auto-creates
// the Conversation, applies tenant access checks, merges transport metadata,
// and streams normalized events.
type Dispatcher struct {
	rt      *Runtime
	factory *Factory
}

func NewDispatcher(rt *Runtime) *Dispatcher {
	return &Dispatcher{rt: rt, factory: NewFactory(rt)}
}

// Stream serves one request. The returned channel always ends in exactly one
// Done or Error event and is then closed.
func (d *Dispatcher) Stream(ctx context.Context, in StreamInput) <-chan protocol.Event {
	events := make(chan protocol.Event, 64)

	fail := func(err *protocol.AgentError) <-chan protocol.Event {
		events <- protocol.ErrorEvent(err)
		close(events)
		return events
	}

	meta := decodeMeta(in.Metadata)

	conv, err := d.resolveConversation(ctx, in, meta)
	if err != nil {
		return fail(protocol.AsAgentError(err))
	}

	userEmail := meta.UserEmail

	// Conversation ownership: an identified caller must be a member of the
	// conversation's context.
	if userEmail != "" {
		tenant, err := d.rt.Store.GetContext(ctx, conv.ContextID)
		if err != nil {
			return fail(protocol.AsAgentError(err))
		}
		if tenant == nil {
			return fail(protocol.Errorf(protocol.ErrContextDenied, "conversation belongs to an unknown context"))
		}
		if len(tenant.Members) > 0 && !tenant.IsMember(userEmail) {
			return fail(protocol.Errorf(protocol.ErrContextDenied,
				"caller is not a member of this conversation's context"))
		}
	}

	history := in.History
	if history == nil {
		window := d.rt.Config.Orchestration.HistoryWindow
		history, err = d.rt.Store.Messages(ctx, conv.ID, window)
		if err != nil {
			slog.Warn("History load failed, continuing without it", "conversation", conv.ID, "error", err)
			history = nil
		}
	}

	metadata := make(map[string]any, len(in.Metadata)+2)
	for k, v := range in.Metadata {
		metadata[k] = v
	}
	metadata[protocol.MetaPlatform] = in.Platform
	metadata[protocol.MetaContextID] = conv.ContextID
	// An unanswered suspension turns the next message into a resume unless
	// the transport explicitly opted out.
	if conv.Suspension != "" {
		if _, set := metadata[protocol.MetaHitlResume]; !set {
			metadata[protocol.MetaHitlResume] = "true"
		}
	}

	orchestrator, err := d.factory.Orchestrator(ctx, conv, userEmail)
	if err != nil {
		return fail(protocol.AsAgentError(err))
	}

	req := &protocol.AgentRequest{
		Prompt:         in.Message,
		ConversationID: conv.ID,
		Metadata:       metadata,
		Messages:       history,
	}

	upstream := orchestrator.ExecuteStream(ctx, req)
	go func() {
		defer close(events)
		for ev := range upstream {
			events <- ev
		}
	}()
	return events
}

// resolveConversation finds the conversation by session id, then by
// (platform, platform_id), auto-creating one when neither matches.
func (d *Dispatcher) resolveConversation(ctx context.Context, in StreamInput, meta requestMeta) (*store.Conversation, error) {
	if in.SessionID != "" {
		conv, err := d.rt.Store.GetConversation(ctx, in.SessionID)
		if err != nil {
			return nil, err
		}
		if conv != nil {
			return conv, nil
		}
	}

	conv, err := d.rt.Store.FindConversation(ctx, in.Platform, in.PlatformID)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return conv, nil
	}

	contextID := meta.ContextID
	if contextID == "" {
		return nil, protocol.Errorf(protocol.ErrContextDenied,
			"no conversation found and no context_id provided to create one")
	}

	conv = &store.Conversation{
		ID:         in.SessionID,
		ContextID:  contextID,
		Platform:   in.Platform,
		PlatformID: in.PlatformID,
	}
	if err := d.rt.Store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	slog.Info("Auto-created conversation", "conversation", conv.ID, "context", contextID, "platform", in.Platform)
	return conv, nil
}
