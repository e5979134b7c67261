// Package parley implements a Discord chat bot that relays channel
// conversations to the OpenAI chat completion API.
//
// The bot responds in channels which have been explicitly enabled via the
// /setup slash command. For each qualifying message, it assembles a bounded
// conversation log from recent channel history and submits it to OpenAI,
// replying with the generated text (or a fallback message if the request
// fails).
//
// Key components of the package include:
//
//   - Parley: The main struct that encapsulates the bot's core functionality.
//   - Registry: Channel bindings and user/server blacklists, persisted as a
//     JSON snapshot file.
//   - Discord: Handles the Discord session, gateway events and slash commands.
//   - OpenAI: Manages chat completion requests.
//   - API: A small status/health HTTP server.
//
// Administrative slash commands cover channel setup (/setup, /disable),
// owner-only blacklisting of users and servers (/blacklist), bot information
// (/botinfo), feedback forwarding (/feedback), and owner-only server
// management (/servers, /leaveserver).
package parley
