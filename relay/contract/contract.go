// Package contract builds the execute and query messages understood by the chat contract.
package contract

// RegisterUserMsg binds a username to an address on chain.
type RegisterUserMsg struct {
	RegisterUser struct {
		Username string `json:"username"`
		Address  string `json:"address"`
	} `json:"RegisterUser"`
}

// CreateGroupMsg creates a group owned by the sender.
type CreateGroupMsg struct {
	CreateGroup struct {
		Name string `json:"name"`
	} `json:"CreateGroup"`
}

// PostGroupMessageMsg appends a message to a group.
type PostGroupMessageMsg struct {
	PostGroupMessage struct {
		Group   string `json:"group"`
		Content string `json:"content"`
	} `json:"PostGroupMessage"`
}

// GetGroupQuery reads a group with its messages.
type GetGroupQuery struct {
	GetGroup struct {
		Name string `json:"name"`
	} `json:"GetGroup"`
}

// GetMessagesQuery reads the messages of a group.
type GetMessagesQuery struct {
	GetMessages struct {
		Group string `json:"group"`
	} `json:"GetMessages"`
}

// RegisterUser returns the message binding username to address.
func RegisterUser(username, address string) (m RegisterUserMsg) {
	m.RegisterUser.Username, m.RegisterUser.Address = username, address

	return
}

// CreateGroup returns the message creating group name.
func CreateGroup(name string) (m CreateGroupMsg) {
	m.CreateGroup.Name = name

	return
}

// PostGroupMessage returns the message posting content to group.
func PostGroupMessage(group, content string) (m PostGroupMessageMsg) {
	m.PostGroupMessage.Group, m.PostGroupMessage.Content = group, content

	return
}

// GetGroup returns the query for group name.
func GetGroup(name string) (q GetGroupQuery) {
	q.GetGroup.Name = name

	return
}

// GetMessages returns the query for the messages of group.
func GetMessages(group string) (q GetMessagesQuery) {
	q.GetMessages.Group = group

	return
}
