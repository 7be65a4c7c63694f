// Package telegram is the boundary to the messaging platform: parsing
// inbound webhook updates, downloading voice message files, and posting
// replies back to the originating chat.
package telegram
