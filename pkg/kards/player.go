package kards

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Player exposes the player-scoped backend operations on top of a session
// broker. All calls are authenticated and run against the logged-in
// identity's my_ endpoints.
type Player struct {
	session *Session
}

func NewPlayer(session *Session) *Player {
	return &Player{session: session}
}

// Name returns the logged-in player's display name.
func (p *Player) Name(ctx context.Context) (string, error) {
	session, err := p.session.GetSession(ctx)
	if err != nil {
		return "", err
	}
	return session.PlayerName, nil
}

// Friends lists the logged-in player's friends.
func (p *Player) Friends(ctx context.Context) ([]FriendListItem, error) {
	endpoint, err := p.session.Home().Endpoint(ctx, "my_friends")
	if err != nil {
		return nil, err
	}
	if endpoint == "" {
		return nil, fmt.Errorf("cannot find my_friends endpoint")
	}

	var friends []FriendListItem
	requester := p.session.Requester()
	if err := requester.RequestJSON(ctx, "GET", requester.Path(endpoint), true, nil, &friends); err != nil {
		return nil, err
	}
	return friends, nil
}

// AddFriendByID sends a friend request to a player id and returns the new
// friend relation id.
func (p *Player) AddFriendByID(ctx context.Context, playerID int) (int, error) {
	logrus.Debugf("addFriendById(%d)", playerID)

	endpoint, err := p.session.Home().Endpoint(ctx, "my_friends")
	if err != nil {
		return 0, err
	}
	if endpoint == "" {
		return 0, fmt.Errorf("cannot find my_friends endpoint")
	}

	body, err := json.Marshal(map[string]int{"friend_id": playerID})
	if err != nil {
		return 0, err
	}

	var friend FriendID
	requester := p.session.Requester()
	if err := requester.RequestJSON(ctx, "POST", requester.Path(endpoint), true, body, &friend); err != nil {
		return 0, err
	}
	return friend.FriendID, nil
}

// AddFriendByName resolves "Name#1234" to a player id via the player search
// endpoint and sends the friend request.
func (p *Player) AddFriendByName(ctx context.Context, name string, tag int) (int, error) {
	logrus.Debugf("addFriendByName(%s, %d)", name, tag)

	endpoint, err := p.session.Home().Endpoint(ctx, "players")
	if err != nil {
		return 0, err
	}
	if endpoint == "" {
		return 0, fmt.Errorf("cannot find players endpoint")
	}

	var matches []struct {
		PlayerID   int    `json:"player_id"`
		PlayerName string `json:"player_name"`
		PlayerTag  int    `json:"player_tag"`
	}
	requester := p.session.Requester()
	path := requester.Path(endpoint) + "?player_name=" + name
	if err := requester.RequestJSON(ctx, "GET", path, true, nil, &matches); err != nil {
		return 0, err
	}

	for _, match := range matches {
		if match.PlayerName == name && match.PlayerTag == tag {
			return p.AddFriendByID(ctx, match.PlayerID)
		}
	}
	return 0, fmt.Errorf("no player named %s#%d found", name, tag)
}
