// Package session tracks the participants currently connected to this server.
// It handles registration, lookup, removal and alias generation for anonymous
// connections. Nothing here is persisted: a participant lives exactly as long
// as its connection.
package session
