package contract

import (
	"encoding/json"
	"testing"
)

func TestMessages(t *testing.T) {
	cases := []struct {
		name string
		msg  interface{}
		exp  string
	}{
		{"register", RegisterUser("alice", "xion1a"), `{"RegisterUser":{"username":"alice","address":"xion1a"}}`},
		{"create", CreateGroup("devs"), `{"CreateGroup":{"name":"devs"}}`},
		{"post", PostGroupMessage("devs", "hi"), `{"PostGroupMessage":{"group":"devs","content":"hi"}}`},
		{"group", GetGroup("devs"), `{"GetGroup":{"name":"devs"}}`},
		{"messages", GetMessages("devs"), `{"GetMessages":{"group":"devs"}}`},
	}
	for _, c := range cases {
		b, err := json.Marshal(c.msg)
		if err != nil || string(b) != c.exp {
			t.Errorf("[%s] got %s expected %s (%v)", c.name, b, c.exp, err)
		}
	}
}
