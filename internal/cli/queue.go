package cli

// Command is one mutation queued while offline. The idempotency key is
// minted at queue time, so replaying the queue after a partial sync never
// applies a command twice.
type Command struct {
	Kind           string `json:"kind"`
	ToID           string `json:"to_id,omitempty"`
	GoalID         string `json:"goal_id,omitempty"`
	ProposalID     string `json:"proposal_id,omitempty"`
	Account        string `json:"account,omitempty"`
	Amount         int64  `json:"amount,omitempty"`
	Message        string `json:"message,omitempty"`
	Ballot         string `json:"ballot,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

const queueFile = "queue.json"

func LoadQueue() ([]Command, error) {
	var out []Command
	if _, err := readState(queueFile, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []Command{}
	}
	return out, nil
}

func SaveQueue(commands []Command) error {
	return writeState(queueFile, commands)
}

func PushQueue(cmd Command) error {
	commands, err := LoadQueue()
	if err != nil {
		return err
	}
	commands = append(commands, cmd)
	return SaveQueue(commands)
}
