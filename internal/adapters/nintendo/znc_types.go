package nintendo

import "encoding/json"

type Game struct {
	Name           string `json:"name"`
	ImageURI       string `json:"imageUri"`
	ShopURI        string `json:"shopUri"`
	TotalPlayTime  int64  `json:"totalPlayTime"`
	FirstPlayedAt  int64  `json:"firstPlayedAt"`
	SysDescription string `json:"sysDescription"`
}

type Presence struct {
	State     string          `json:"state"`
	UpdatedAt int64           `json:"updatedAt"`
	LogoutAt  int64           `json:"logoutAt"`
	Game      json.RawMessage `json:"game"` // {} when offline, a Game otherwise
}

// PlayingGame decodes Game, returning nil when the presence carries none.
func (p Presence) PlayingGame() *Game {
	if len(p.Game) == 0 {
		return nil
	}
	var g Game
	if err := json.Unmarshal(p.Game, &g); err != nil || g.Name == "" {
		return nil
	}
	return &g
}

type Friend struct {
	ID               int64    `json:"id"`
	NsaID            string   `json:"nsaId"`
	ImageURI         string   `json:"imageUri"`
	Name             string   `json:"name"`
	IsFriend         bool     `json:"isFriend"`
	IsFavoriteFriend bool     `json:"isFavoriteFriend"`
	IsServiceUser    bool     `json:"isServiceUser"`
	FriendCreatedAt  int64    `json:"friendCreatedAt"`
	Presence         Presence `json:"presence"`
}

type Friends struct {
	Friends []Friend `json:"friends"`
}

type Announcement struct {
	AnnouncementID      int64  `json:"announcementId"`
	PriorityFlag        bool   `json:"priorityFlag"`
	ForceDisplayEndDate int64  `json:"forceDisplayEndDate"`
	DistributionDate    int64  `json:"distributionDate"`
	Title               string `json:"title"`
	Description         string `json:"description"`
}

type WebService struct {
	ID               int64  `json:"id"`
	URI              string `json:"uri"`
	CustomAttributes []struct {
		AttrKey   string `json:"attrKey"`
		AttrValue string `json:"attrValue"`
	} `json:"customAttributes"`
	WhiteList []string `json:"whiteList"`
	Name      string   `json:"name"`
	ImageURI  string   `json:"imageUri"`
}

type WebServiceToken struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
}

type PresencePermission string

const (
	PresenceEveryone  PresencePermission = "FRIENDS"
	PresenceFavorites PresencePermission = "FAVORITE_FRIENDS"
	PresenceSelf      PresencePermission = "SELF"
)

type User struct {
	ID       int64  `json:"id"`
	NsaID    string `json:"nsaId"`
	ImageURI string `json:"imageUri"`
	Name     string `json:"name"`
}

type CurrentUser struct {
	User
	SupportID string `json:"supportId"`
	Links     struct {
		NintendoAccount struct {
			Membership struct {
				Active bool `json:"active"`
			} `json:"membership"`
		} `json:"nintendoAccount"`
		FriendCode struct {
			Regenerable   bool   `json:"regenerable"`
			RegenerableAt int64  `json:"regenerableAt"`
			ID            string `json:"id"`
		} `json:"friendCode"`
	} `json:"links"`
	Permissions struct {
		Presence PresencePermission `json:"presence"`
	} `json:"permissions"`
	Presence Presence `json:"presence"`
}

type CurrentUserPermissions struct {
	Etag        string `json:"etag"`
	Permissions struct {
		Presence PresencePermission `json:"presence"`
	} `json:"permissions"`
}

// Event payloads vary by event type and are passed through undecoded.
type Event = json.RawMessage
