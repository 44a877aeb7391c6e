package luxor

// StatusOK is the only status code that means success.
const StatusOK = 0

const statusTextOK = "Ok"

var statusText = map[int]string{
	0:   statusTextOK,
	1:   "Unknown Method",
	101: "Unparseable Request",
	102: "Invalid Request",
	151: "Color Value Out of Range",
	201: "Precondition Failed",
	202: "Group Name In Use",
	205: "Group Number In Use",
	241: "Item Does Not Exist",
	242: "Bad Group Number",
	243: "Theme Index Out Of Range",
	251: "Bad Theme Index",
	252: "Theme Changes Restricted",
}

// StatusText returns the human-readable text for a controller status code.
func StatusText(code int) string {
	if text, ok := statusText[code]; ok {
		return text
	}
	return "Unknown status"
}
