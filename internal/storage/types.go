package storage

import (
	"github.com/vmihailenco/msgpack/v5"
)

type DBSession struct {
	AccessToken string `msgpack:"accessToken"`
	SavedAt     int64  `msgpack:"savedAt"`
}

func (s *DBSession) MarshalBinary() (data []byte, err error) {
	type alias DBSession
	return msgpack.Marshal((*alias)(s))
}

func (s *DBSession) UnmarshalBinary(data []byte) error {
	type alias DBSession
	return msgpack.Unmarshal(data, (*alias)(s))
}

type DBConversation struct {
	ConversationID  int64  `msgpack:"conversationId"`
	Username        string `msgpack:"username"`
	AvatarURL       string `msgpack:"avatarUrl"`
	LastMessageTime int64  `msgpack:"lastMessageTime"`
	UnreadCount     int    `msgpack:"unreadCount"`
}

func (c *DBConversation) MarshalBinary() (data []byte, err error) {
	type alias DBConversation
	return msgpack.Marshal((*alias)(c))
}

func (c *DBConversation) UnmarshalBinary(data []byte) error {
	type alias DBConversation
	return msgpack.Unmarshal(data, (*alias)(c))
}
