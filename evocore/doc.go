// Package evocore implements a Discord community-management bot built
// around a guild event scheduling and RSVP engine.
//
// Events are created by an organizer, rendered as an embed with RSVP
// buttons in their hosting channel, and mutated through button and
// select-menu interactions. The authoritative state always lives in the
// database; the rendered message is a best-effort projection that can be
// rebuilt from scratch at any time.
//
// Key components of the package include:
//
//   - Evocore: The main struct that wires the bot together.
//   - EventManager: Event/participant persistence and the RSVP state machine.
//   - ViewSynchronizer: Keeps the public event message in sync with the roster.
//   - CancelNotifier: DM fan-out when an event is cancelled.
//   - Discord: Gateway session management and interaction dispatch.
//   - API: Operator HTTP API for health, event inspection and repair.
//
// Around the event core, the bot carries the community surfaces the
// original deployment shipped with: moderation commands, a message-XP
// leveling economy, trivia rounds, WoW character lookups (Blizzard +
// Raider.IO), AI-assisted replies, and self-assign role menus.
package evocore
