/*
Package registry distributes events to connected client sessions.

Every active user is represented by an isolated Cell that owns delivery for
all of that user's sessions (web, mobile, several tabs). Per-user mailboxes
decouple publishers from delivery, so a slow websocket consumer never blocks
pipeline workers, and a janitor reclaims cells once their last session has
been gone long enough.
*/
package registry
