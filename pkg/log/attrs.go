package log

import "log/slog"

func FlowID[T ~string](id T) slog.Attr {
	return slog.String("flow_id", string(id))
}

func NodeID[T ~string](id T) slog.Attr {
	return slog.String("node_id", string(id))
}

func TicketID[T ~string](id T) slog.Attr {
	return slog.String("ticket_id", string(id))
}

func ClusterID[T ~string](id T) slog.Attr {
	return slog.String("cluster_id", string(id))
}

func InstanceID[T ~string](id T) slog.Attr {
	return slog.String("instance_id", string(id))
}

func JobID[T ~string](id T) slog.Attr {
	return slog.String("job_id", string(id))
}

func Host[T ~string](host T) slog.Attr {
	return slog.String("host", string(host))
}

func Status[T ~string](status T) slog.Attr {
	return slog.String("status", string(status))
}

func Class[T ~string](class T) slog.Attr {
	return slog.String("class", string(class))
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}

func ErrorString(msg string) slog.Attr {
	return slog.String("error", msg)
}
