package hosts

import (
	"encoding/json"
	"fmt"

	"github.com/Ava-Prime/gitguard-sub000/internal/model"
)

// GitHub is the one shipped host Adapter (spec §4.1's only named
// example); its body shape ("action", "pull_request", "commits",
// "release" top-level keys) is GitHub's documented webhook envelope.
type GitHub struct{}

func (GitHub) Name() string { return "github" }

func (GitHub) Parse(body []byte) (model.EventKind, string, string, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", "", "", fmt.Errorf("github: malformed body: %w", err)
	}

	switch {
	case payload["pull_request"] != nil:
		action, _ := payload["action"].(string)
		pr, _ := payload["pull_request"].(map[string]interface{})
		return model.EventPullRequest, action, deliveryKey(payload, "pull_request", pr, "id"), nil
	case payload["release"] != nil:
		action, _ := payload["action"].(string)
		release, _ := payload["release"].(map[string]interface{})
		return model.EventRelease, action, deliveryKey(payload, "release", release, "id"), nil
	case payload["commits"] != nil:
		return model.EventPush, "push", deliveryKey(payload, "push", payload, "after"), nil
	case payload["zen"] != nil:
		return model.EventPing, "ping", deliveryKey(payload, "ping", payload, "hook_id"), nil
	default:
		return "", "", "", fmt.Errorf("github: unrecognized payload shape")
	}
}

// deliveryKey synthesizes a fallback delivery id from the repository
// full name, event kind, and an identifying field, for use only when
// the X-Delivery-ID header the gateway normally trusts is absent.
func deliveryKey(payload map[string]interface{}, kind string, scope map[string]interface{}, idField string) string {
	repo, _ := payload["repository"].(map[string]interface{})
	fullName, _ := repo["full_name"].(string)
	var id interface{}
	if scope != nil {
		id = scope[idField]
	}
	return fmt.Sprintf("%s:%s:%v", fullName, kind, id)
}
