package worker

import "time"

// Разбор job.Params. Params приходят из JSON, поэтому числа — float64;
// int принимается для jobs, созданных в коде. Ошибка типа — invalid_params.

func stringParam(params map[string]any, key, def string) (string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", NewTaskError(CodeInvalidParams, "%s must be a string, got %T", key, v)
	}
	return s, nil
}

// secondsParam читает неотрицательное число секунд.
func secondsParam(params map[string]any, key string, def float64) (float64, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}

	var sec float64
	switch n := v.(type) {
	case float64:
		sec = n
	case int:
		sec = float64(n)
	default:
		return 0, NewTaskError(CodeInvalidParams, "%s must be a number, got %T", key, v)
	}
	if sec < 0 {
		return 0, NewTaskError(CodeInvalidParams, "%s must be non-negative, got %v", key, sec)
	}
	return sec, nil
}

func seconds(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

// headersParam принимает map[string]any (из JSON) и map[string]string.
func headersParam(params map[string]any, key string) (map[string]string, error) {
	switch h := params[key].(type) {
	case nil:
		return nil, nil
	case map[string]string:
		return h, nil
	case map[string]any:
		out := make(map[string]string, len(h))
		for k, v := range h {
			s, ok := v.(string)
			if !ok {
				return nil, NewTaskError(CodeInvalidParams, "header %s must be a string, got %T", k, v)
			}
			out[k] = s
		}
		return out, nil
	default:
		return nil, NewTaskError(CodeInvalidParams, "%s must be an object, got %T", key, h)
	}
}
