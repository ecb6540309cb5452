package bot

import "github.com/mayahealth/maya-bot/internal/telegram"

// User-facing texts, HTML parse mode.
const (
	textWelcome = "Hi! I'm <b>Maya</b>, your personal medical assistant 🤖.\n" +
		"Let's start with some basic details about you as a patient, please click on /register."

	textStartReturning = "Hi! I'm <b>Maya</b>, your medical assistant 🤖.\n" +
		"Let's continue our conversation, enter / to see the command list.\n" +
		"If you're not registered as a patient yet, please click on /register."

	textHelp = "Commands:\n" +
		"⚪ /retry - Regenerate last bot answer\n" +
		"⚪ /new - Start new conversation\n" +
		"⚪ /model - Select model\n" +
		"⚪ /balance - Show balance\n" +
		"⚪ /register - Register as a patient\n" +
		"⚪ /extract - Extract my prompt data\n" +
		"⚪ /cancel - Cancel the current reply\n" +
		"⚪ /help - Show help"

	textBusy = "⏳ Please <b>wait</b> for a reply to the previous message\n" +
		"Or you can /cancel it"

	textCanceled        = "✅ Canceled"
	textNothingToCancel = "<i>Nothing to cancel...</i>"
	textNewDialog       = "Starting new dialog ✅"
	textTimeoutDialog   = "Starting new dialog due to timeout ✅"
	textNothingToRetry  = "No message to retry 🤷‍♂️"
	textPlaceholder     = "..."

	textEditedNotSupported = "🥲 Unfortunately, message <b>editing</b> is not supported"
	textTextOnly           = "🥲 I can only read <b>text</b> messages for now"
	textUnknownCommand     = "Unknown command. Enter / to see the command list."
	textGenericFailure     = "Something went wrong during completion. Please try again."

	textContextExhausted = "😓 Your message is too long for the model even with an empty dialog. " +
		"Please shorten it and try again."

	textExtractCaption = "Here is your data. You can use it to train your own model."

	textAlreadyRegistered = "You are already registered as a patient ✅"
	textRegisterAborted   = "Registration canceled. You can restart it anytime with /register."
	textRegisterDone      = "All set, thank you! 🩺 I will keep your details in mind.\n" +
		"Now tell me what brings you here today."

	textAskAge            = "Let's get you registered. First, how <b>old</b> are you?"
	textBadAge            = "Please enter your age as a number between 1 and 120."
	textAskGender         = "What is your <b>gender</b>?"
	textAskAllergies      = "Do you have any <b>allergies</b>? If none, just say \"none\"."
	textAskMedicalHistory = "Finally, describe any relevant <b>medical history</b> (conditions, surgeries, medications). If none, say \"none\"."
)

var botCommands = []telegram.BotCommand{
	{Command: "new", Description: "Start new conversation"},
	{Command: "retry", Description: "Regenerate last bot answer"},
	{Command: "cancel", Description: "Cancel the current reply"},
	{Command: "model", Description: "Select model"},
	{Command: "balance", Description: "Show balance"},
	{Command: "register", Description: "Register as a patient"},
	{Command: "extract", Description: "Extract my prompt data"},
	{Command: "help", Description: "Show available commands"},
}
