package prompts

import "github.com/nugget/azaman/internal/state"

// Greeting is the assistant line shown when a user opens a session. It
// does not go through the model and is not stored in history.
func Greeting(st *state.ConversationState) string {
	if st == nil || st.IsNewSession() {
		return "Welcome to Aza Man, your financial assistant! What is your name?"
	}
	return "Welcome back, " + st.Username + "! Your last session data is loaded. How can I assist you today?"
}
