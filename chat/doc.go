// Package chat contains the Twitch chat transport used by the bot.
//
// It provides:
//   - Event: one chat line as seen by the bot, including an Echo flag for
//     lines the bot itself sent.
//   - Channel: a send handle for a joined channel.
//   - Client: a go-twitch-irc wrapper that joins TWITCH_CHANNEL, delivers
//     events one at a time to a single handler and resolves a send target
//     (the joined channel, else the first channel chat was observed on).
//
// Credentials: the IRC client requires a bot username and an OAuth token with
// chat:read/chat:edit scopes (TWITCH_BOT_USERNAME / TWITCH_OAUTH_TOKEN). The
// Helix app token used for liveness polling is a different credential and
// cannot be used here.
package chat
