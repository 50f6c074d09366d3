// Package history archives finished games.
//
// A Record holds the players, the deck name and every accepted action of a
// game, which is enough to replay it through the engine. Stores persist
// records to a directory of JSON files, Redis or PostgreSQL; Open picks one
// by backend name.
package history
