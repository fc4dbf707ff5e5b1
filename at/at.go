package at

const (
	// Terminal Control
	CRLF = "\r\n"

	// Response Codes
	OK       = "OK"
	ERROR    = "ERROR"
	CmeError = "+CME ERROR:"
	CmsError = "+CMS ERROR:"

	// Command replies
	RespPIN     = "+CPIN:"
	RespSignal  = "+CSQ:"
	RespPDP     = "+CGACT:"
	RespVersion = "+CGMR:"
	RespMQTTNew = "+CMQNEW:"
	RespHTTPNew = "+CHTTPCREATE:"

	// URCs (Unsolicited Result Codes)
	UrcHTTPHeader  = "+CHTTPNMIH:"
	UrcHTTPContent = "+CHTTPNMIC:"
	UrcHTTPError   = "+CHTTPERR:"
	UrcDNS         = "+CDNSGIP:"
	UrcNTP         = "+CSNTP:"
	UrcFOTA        = "+CFOTA:"
	UrcMQTTDiscon  = "+CMQDISCON:"
	UrcRegistered  = "+CEREG:"

	// Values
	SimReady = "READY"
)

type ResponseType int

const (
	TypeOK    ResponseType = iota // OK
	TypeError                     // ERROR, +CME ERROR, +CMS ERROR
	TypeURC                       // Asynchronous notifications
	TypeData                      // Intermediate command output (+CSQ: ...)
)

func (t ResponseType) String() string {
	switch t {
	case TypeOK:
		return "ok"
	case TypeError:
		return "error"
	case TypeURC:
		return "urc"
	case TypeData:
		return "data"
	default:
		return "unknown"
	}
}

// Final reports whether the response type terminates a command reply.
func (t ResponseType) Final() bool {
	return t == TypeOK || t == TypeError
}
