package database

type StudyHallRepository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
	CreateRoom(params CreateRoomParams) (Room, error)
	GetRoomByExternalId(externalId string) (Room, error)
	GetRoomById(id int) (Room, error)
	DeleteRoom(id int) error
	AddRoomMember(roomId, accountId int) error
	CreateMessage(params CreateMessageParams) (Message, error)
	GetMessages(roomId, before, limit int) ([]Message, error)
	GetMessageById(id int) (Message, error)
	DeleteMessage(id int) error
	SetMessagePinned(id int, pinned bool) error
	AddReaction(messageId, accountId int, emoji string) error
	RemoveReaction(messageId, accountId int, emoji string) error
}
