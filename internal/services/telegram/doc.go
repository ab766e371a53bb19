// Package telegram delivers approval requests over the Telegram Bot API and
// feeds reviewer decisions back into the approval gateway.
//
// Messenger implements approval.Messenger: the thumbnail is sent as a photo
// with the draft metadata as caption and inline Approve/Reject buttons.
// Poller long-polls getUpdates and turns button presses and text commands
// ("approve <id>", "reject <id>", "edit <id> <field> <value>") into calls to
// the gateway's OnDecision. Only messages from the configured chat are
// honoured.
package telegram
