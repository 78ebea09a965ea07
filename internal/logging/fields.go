package logging

import "log/slog"

func UserID(id string) slog.Attr {
	return slog.String("user_id", id)
}

func Business(id string) slog.Attr {
	return slog.String("business_id", id)
}

func Thread(key string) slog.Attr {
	return slog.String("thread", key)
}

func Conn(id string) slog.Attr {
	return slog.String("conn_id", id)
}

func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
