package tgui

// MaxCaptionLen is Telegram's media caption size limit in characters.
// Longer captions make the Bot API reject the whole send.
const MaxCaptionLen = 1024
