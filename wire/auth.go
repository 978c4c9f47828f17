package wire

// AuthorizationMessageType tags the web_message payload posted by the login
// popup back to its opener.
const AuthorizationMessageType = "authorization_response"

// AuthorizationMessage is the message the authorization popup posts once the
// user completes (or aborts) the login.
type AuthorizationMessage struct {
	Type     string                `json:"type"`
	Response AuthorizationResponse `json:"response"`
}

// AuthorizationResponse carries the authorization code or the error the
// authorization server returned.
type AuthorizationResponse struct {
	Code             string `json:"code,omitempty"`
	State            string `json:"state,omitempty"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}
