package store

// 树的布局（与原始数据模型一致）：
//
//	rooms                      房间索引：code -> 房间元数据
//	rooms/{code}/members       成员集合：memberId -> 成员记录
//	rooms/{code}/queue         视频队列：entryId(ULID) -> 队列条目
//	rooms/{code}/chat          聊天记录：msgId(ULID) -> 消息
//	rooms/{code}/playback      播放状态记录节点：字段 -> 标量
//
// 房间删除 = DeleteTree(RoomTree(code)) + DeleteField(RoomsIndex, code)。

// RoomsIndex 是房间索引节点的路径。
func RoomsIndex() string { return "rooms" }

// RoomTree 是一个房间整棵子树的前缀。
func RoomTree(code string) string { return "rooms/" + code }

// RoomMembers 是房间成员集合的路径。
func RoomMembers(code string) string { return "rooms/" + code + "/members" }

// RoomQueue 是房间视频队列的路径。
func RoomQueue(code string) string { return "rooms/" + code + "/queue" }

// RoomChat 是房间聊天记录的路径。
func RoomChat(code string) string { return "rooms/" + code + "/chat" }

// RoomPlayback 是房间共享播放状态记录的路径。
func RoomPlayback(code string) string { return "rooms/" + code + "/playback" }
