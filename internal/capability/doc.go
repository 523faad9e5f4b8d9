// Package capability — обнаружение воркеров через capability broadcast.
//
// Воркер (Broadcaster) периодически публикует retained-сообщение со своими
// возможностями в топик {prefix}/{worker_id}. Сервер (Manager) подписан на
// {prefix}/+ и держит кэш записей с ограниченным временем жизни.
//
// Формат сообщения:
//
//	{"id":"w1","capabilities":["clip_embedding"],"idle_count":1,"timestamp":1718000000000}
//
// Пустой payload — воркер завершился штатно (clear).
// {"id":"w1","status":"offline"} — last will, воркер пропал без clear.
//
// Порядок обновлений определяется timestamp из сообщения, а не порядком
// доставки: более старое сообщение не перезаписывает более новую запись.
package capability
