package store

import "fmt"

// Key layout. Everything owned by a thread lives under "thread:<id>:" so a
// purge can walk a single prefix.
//
//	user:<id>                                  User
//	userext:<externalID>                       user id
//	thread:<id>:meta                           Thread
//	thread:<id>:msg:<seq>                      Message
//	thread:<id>:delta:<streamID>:<pos>         Delta
//	msgidx:<msgID>                             "<threadID>\x00<seq>"
//	owner:<userID>:<createdTS>:<threadID>      empty; thread listing
//	streaming:<msgID>                          thread id; unfinished generations
//	finished:<ts>:<threadID>:<streamID>        empty; delta compaction queue
//	deleting:<threadID>                        empty; purges to resume
//	machine:<id> ticket:<id> note:<table>:<entityID>:<ts>:<id>
//	team:<id> teammember:<teamID>:<userID>
//	appconfig:<key>                            ConfigEntry

func userKey(id string) string         { return "user:" + id }
func userExtKey(ext string) string     { return "userext:" + ext }
func threadMetaKey(id string) string   { return "thread:" + id + ":meta" }
func threadPrefix(id string) string    { return "thread:" + id + ":" }
func msgPrefix(threadID string) string { return "thread:" + threadID + ":msg:" }

func msgKey(threadID string, seq uint64) string {
	return fmt.Sprintf("thread:%s:msg:%020d", threadID, seq)
}

func msgIndexKey(msgID string) string { return "msgidx:" + msgID }

func deltaPrefix(threadID, streamID string) string {
	return "thread:" + threadID + ":delta:" + streamID + ":"
}

func deltaKey(threadID, streamID string, pos uint64) string {
	return fmt.Sprintf("thread:%s:delta:%s:%020d", threadID, streamID, pos)
}

func ownerPrefix(userID string) string { return "owner:" + userID + ":" }

func ownerKey(userID string, createdTS int64, threadID string) string {
	return fmt.Sprintf("owner:%s:%020d:%s", userID, createdTS, threadID)
}

func streamingKey(msgID string) string { return "streaming:" + msgID }

func deletingKey(threadID string) string { return "deleting:" + threadID }

func finishedKey(ts int64, threadID, streamID string) string {
	return fmt.Sprintf("finished:%020d:%s:%s", ts, threadID, streamID)
}

func machineKey(id string) string { return "machine:" + id }
func ticketKey(id string) string  { return "ticket:" + id }
func teamKey(id string) string    { return "team:" + id }

func teamMemberKey(teamID, userID string) string {
	return "teammember:" + teamID + ":" + userID
}

func notePrefix(table, entityID string) string {
	return "note:" + table + ":" + entityID + ":"
}

func noteKey(table, entityID string, ts int64, id string) string {
	return fmt.Sprintf("note:%s:%s:%020d:%s", table, entityID, ts, id)
}

func configKey(key string) string { return "appconfig:" + key }
